package repo

import "math"

// Pagination — окно выборки для постраничных запросов.
//
// Total ограничен жёстким лимитом: страницы за лимитом возвращают
// пустой результат с флагом MaxResultCountReached.
type Pagination struct {
	Skip         int
	Limit        int
	maxRequested bool
}

// ResultList — результат постраничного запроса.
type ResultList[T any] struct {
	Results               []T  `json:"results"`
	MaxResultCountReached bool `json:"max_result_count_reached"`
}

// NewPagination вычисляет окно для страниц [firstPage, firstPage+pageCount).
// maxResults <= 0 снимает лимит.
func NewPagination(pageSize, maxResults, firstPage, pageCount int) Pagination {
	if pageSize <= 0 {
		pageSize = 1
	}
	if maxResults <= 0 {
		maxResults = math.MaxInt
	}
	if firstPage < 0 {
		firstPage = 0
	}
	if pageCount < 1 {
		pageCount = 1
	}

	total := saturatingMul(firstPage+pageCount, pageSize)
	total = min(total, maxResults)
	skip := min(saturatingMul(firstPage, pageSize), total)

	return Pagination{
		Skip:         skip,
		Limit:        max(total-skip, 0),
		maxRequested: total == maxResults,
	}
}

// MaxReached сообщает, исчерпан ли лимит результатов.
func (p Pagination) MaxReached(resultSize int) bool {
	return p.maxRequested && resultSize == p.Limit
}

// NewResultList собирает ResultList и вычисляет флаг лимита.
func NewResultList[T any](results []T, page Pagination) ResultList[T] {
	if results == nil {
		results = []T{}
	}
	return ResultList[T]{
		Results:               results,
		MaxResultCountReached: page.MaxReached(len(results)),
	}
}

func saturatingMul(a, b int) int {
	if a != 0 && b > math.MaxInt/a {
		return math.MaxInt
	}
	return a * b
}
