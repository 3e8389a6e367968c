package model

type UserID string      // stable identity issued by the marketplace
type UserAddress string // contact address used as the delivery key e.g. a@uni.edu

// User is an already-authenticated principal. The boundary layer resolves it and
// passes it explicitly into every core operation.
type User struct {
	ID      UserID      `db:"id" json:"id"`
	Address UserAddress `db:"email" json:"email"`
}
