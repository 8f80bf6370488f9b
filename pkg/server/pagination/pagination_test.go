package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContext(target string) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, target, nil)
	return c, w
}

func TestPage(t *testing.T) {
	items := []string{"a", "b", "c", "d", "e"}

	var got []string
	target := "/items?issuer=acme&pageSize=2"
	for {
		c, _ := testContext(target)
		var pageRequest PageRequest
		require.NoError(t, ParsePaginationParams(c, &pageRequest))

		page, next, err := Page(c, items, pageRequest)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(page), 2)
		got = append(got, page...)
		if next == "" {
			break
		}
		target = "/items?issuer=acme&pageSize=2&pageToken=" + next
	}
	assert.Equal(t, items, got)
}

func TestPageWithoutSize(t *testing.T) {
	c, _ := testContext("/items")
	var pageRequest PageRequest
	require.NoError(t, ParsePaginationParams(c, &pageRequest))
	assert.Nil(t, pageRequest.PageSize)

	page, next, err := Page(c, []int{1, 2, 3}, pageRequest)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, page)
	assert.Empty(t, next)
}

func TestParsePaginationParamsErrors(t *testing.T) {
	c, _ := testContext("/items?issuer=acme&pageSize=1")
	_, next, err := Page(c, []int{1, 2}, PageRequest{PageSize: intPtr(1)})
	require.NoError(t, err)
	require.NotEmpty(t, next)

	tests := []struct {
		name   string
		target string
	}{
		{name: "not a number", target: "/items?pageSize=two"},
		{name: "zero page size", target: "/items?pageSize=0"},
		{name: "garbage token", target: "/items?pageToken=@@@@"},
		{name: "token of another query", target: "/items?issuer=other&pageToken=" + next},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, w := testContext(tt.target)
			var pageRequest PageRequest
			assert.Error(t, ParsePaginationParams(c, &pageRequest))
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func intPtr(i int) *int {
	return &i
}
