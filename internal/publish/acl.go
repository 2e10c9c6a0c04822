package publish

// ACL is a predefined access-control preset applied at upload time.
type ACL string

const (
	// ACLNone leaves the bucket's default object ACL in place.
	ACLNone ACL = ""

	// ACLPublicRead grants read access to all users.
	ACLPublicRead ACL = "publicRead"
)

// ResolveACL maps the public flag onto a predefined ACL.
func ResolveACL(public bool) ACL {
	if public {
		return ACLPublicRead
	}
	return ACLNone
}
