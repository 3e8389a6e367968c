package model

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

type PageRequest struct {
	Page int `query:"page"`
	Size int `query:"size"`
}

func (p PageRequest) Validate() error {
	if p.Page < 0 || p.Size < 1 || p.Size > MaxPageSize {
		return ErrorInvalidPageRequest
	}
	return nil
}

func (p PageRequest) Offset() int {
	return p.Page * p.Size
}

type Page[T any] struct {
	Items []T `json:"items"`
	Page  int `json:"page"`
	Size  int `json:"size"`
	Total int `json:"total"`
}
