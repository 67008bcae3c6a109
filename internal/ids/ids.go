// Package ids generates the sortable identifiers used for users, sessions and audit
// events.
package ids

import "github.com/segmentio/ksuid"

func New() string {
	return ksuid.New().String()
}
