package authz

const policyQuery = "data.feed.authz.allow"

// DefaultPolicy allows reads and creates for any resolved identity, deletes
// for administrators or the resource owner, and the audit view for administrators.
const DefaultPolicy = `package feed.authz

default allow := false

allow if input.action == "read"

allow if input.action == "create"

allow if {
	input.action == "delete"
	input.roles[_] == "admin"
}

allow if {
	input.action == "delete"
	input.resource.owner_id != ""
	input.subject == input.resource.owner_id
}

allow if {
	input.action == "read_audit"
	input.roles[_] == "admin"
}
`
