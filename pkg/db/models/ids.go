package models

import "github.com/google/uuid"

// ensureID fills a missing primary key before insert. The migrations also
// default ids server-side; assigning here keeps inserts portable to sqlite.
func ensureID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}
