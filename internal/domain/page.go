package domain

// ============================================================
// Pagination envelope
// ============================================================

// MaxPageSize caps the page size accepted from callers.
const MaxPageSize = 100

// DefaultPageSize is used when the caller does not ask for a size.
const DefaultPageSize = 20

// PageRequest is a 0-based page selector.
type PageRequest struct {
	Page int
	Size int
}

// Normalize clamps the request to sane bounds.
func (p PageRequest) Normalize() PageRequest {
	if p.Page < 0 {
		p.Page = 0
	}
	if p.Size <= 0 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	return p
}

// Offset returns the number of rows to skip.
func (p PageRequest) Offset() int { return p.Page * p.Size }

// PageInfo describes the position of a page within the full result set.
type PageInfo struct {
	Page          int `json:"page"`
	Size          int `json:"size"`
	TotalElements int `json:"totalElements"`
	TotalPages    int `json:"totalPages"`
}

// Page is the uniform paged response envelope.
type Page[T any] struct {
	Content []T      `json:"content"`
	Page    PageInfo `json:"page"`
}

// NewPage builds the envelope for one page of content.
func NewPage[T any](content []T, req PageRequest, total int) Page[T] {
	totalPages := 0
	if req.Size > 0 {
		totalPages = (total + req.Size - 1) / req.Size
	}
	if content == nil {
		content = []T{}
	}
	return Page[T]{
		Content: content,
		Page: PageInfo{
			Page:          req.Page,
			Size:          req.Size,
			TotalElements: total,
			TotalPages:    totalPages,
		},
	}
}
