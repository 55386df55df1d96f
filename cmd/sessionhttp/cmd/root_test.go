package cmd

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/RassulYunussov/sessionhttp/internal/namespace"
	"github.com/rs/zerolog"
	"gotest.tools/v3/assert"
)

func TestCurrentNamespace(t *testing.T) {
	navigationPath = "/agency/orders"
	ns, err := currentNamespace("")
	assert.NilError(t, err)
	assert.Equal(t, namespace.Agency, ns)
	ns, err = currentNamespace("admin")
	assert.NilError(t, err)
	assert.Equal(t, namespace.Admin, ns)
	_, err = currentNamespace("guest")
	assert.ErrorContains(t, err, "unknown namespace")
}

func TestNewLogger(t *testing.T) {
	l, err := newLogger("warn")
	assert.NilError(t, err)
	assert.Equal(t, zerolog.WarnLevel, l.GetLevel())
	_, err = newLogger("loud")
	assert.ErrorContains(t, err, "invalid log level")
}

func TestGetCommand(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Check(t, r.URL.Path == "/api/products/")
		assert.Check(t, r.URL.Query().Get("page") == "2")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer s.Close()

	stdout := os.Stdout
	reader, writer, err := os.Pipe()
	assert.NilError(t, err)
	os.Stdout = writer
	defer func() { os.Stdout = stdout }()

	rootCmd.SetArgs([]string{"--base-url", s.URL + "/api", "get", "/api/products/", "-p", "page=2"})
	err = rootCmd.Execute()
	writer.Close()
	assert.NilError(t, err)

	var out bytes.Buffer
	_, _ = out.ReadFrom(reader)
	assert.Equal(t, "[]", out.String())
}
