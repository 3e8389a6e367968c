package model

type ListingID string

// Listing is the slice of a housing listing the chat core needs.
type Listing struct {
	ID     ListingID `db:"id" json:"id"`
	Title  string    `db:"title" json:"title"`
	Active bool      `db:"active" json:"active"`
}
