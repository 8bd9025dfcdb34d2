package model

import "time"

// Template holds a reusable subject+body pair. Variables is recomputed
// on every write from the {{identifier}} tokens found in Subject+BodyHTML.
type Template struct {
	ID        int64     `json:"id"`
	UUID      string    `json:"uuid"`
	UserID    int64     `json:"userId"`
	Name      string    `json:"name"`
	Subject   string    `json:"subject"`
	BodyHTML  string    `json:"bodyHtml"`
	Variables []string  `json:"variables"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
