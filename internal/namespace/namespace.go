package namespace

import "strings"

// Namespace isolates stored credentials per storefront role.
type Namespace string

const (
	User     Namespace = "user"
	Agency   Namespace = "agency"
	Employee Namespace = "employee"
	Business Namespace = "business"
	Admin    Namespace = "admin"
)

var prefixes = []Namespace{Agency, Employee, Business, Admin}

// All lists every namespace, User first.
func All() []Namespace {
	return []Namespace{User, Agency, Employee, Business, Admin}
}

// Resolve maps a navigation path to the namespace owning it.
// Unknown prefixes belong to User.
func Resolve(path string) Namespace {
	first := strings.TrimLeft(path, "/")
	if i := strings.IndexAny(first, "/?#"); i >= 0 {
		first = first[:i]
	}
	first = strings.ToLower(first)
	for _, ns := range prefixes {
		if first == string(ns) {
			return ns
		}
	}
	return User
}

// Parse validates a namespace name.
func Parse(s string) (Namespace, bool) {
	for _, ns := range All() {
		if strings.EqualFold(s, string(ns)) {
			return ns, true
		}
	}
	return "", false
}
