// Package domain defines the access-control records and the pure state
// transitions over them: access policies, memberships, session grants,
// public session info, presence records and the derived effective status.
package domain
