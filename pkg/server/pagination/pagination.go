package pagination

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"github.com/opsecid/traceability-service/pkg/server/framework"
)

type PageToken struct {
	EncodedQuery string `json:"encodedQuery"`
	Offset       int    `json:"offset"`
}

const (
	PageSizeParam  = "pageSize"
	PageTokenParam = "pageToken"
)

// PageRequest contains the parameters sent in the request.
type PageRequest struct {
	// PageSize is the value associated with PageSizeParam. A nil value means it was not present in the query. When the parameter
	// is absent, all items in the collection are included in the response.
	PageSize *int `json:"pageSize,omitempty"`

	// Offset is decoded from the PageTokenParam. Zero when no token was sent.
	Offset int `json:"offset,omitempty"`
}

// ParsePaginationParams reads the PageSizeParam and PageTokenParam from the URL parameters and populates the passed in
// pageRequest. The value encoded in PageTokenParam is assumed to be the base64url encoding of a PageToken. It is an
// error for the query params to be different from the query params encoded in the PageToken. Any error is answered
// using the passed in gin.Context and returned.
func ParsePaginationParams(c *gin.Context, pageRequest *PageRequest) error {
	if pageSizeStr := framework.GetQueryValue(c, PageSizeParam); pageSizeStr != nil {
		pageSize, err := strconv.Atoi(*pageSizeStr)
		if err != nil {
			errMsg := fmt.Sprintf("could not parse the %q query param", PageSizeParam)
			return framework.LoggingRespondErrMsg(c, errMsg, http.StatusBadRequest)
		}
		if pageSize <= 0 {
			errMsg := fmt.Sprintf("%q must be greater than 0", PageSizeParam)
			return framework.LoggingRespondErrMsg(c, errMsg, http.StatusBadRequest)
		}
		pageRequest.PageSize = &pageSize
	}

	queryPageToken := framework.GetQueryValue(c, PageTokenParam)
	if queryPageToken == nil {
		return nil
	}
	errMsg := "token value cannot be decoded"
	tokenData, err := base64.RawURLEncoding.DecodeString(*queryPageToken)
	if err != nil {
		return framework.LoggingRespondErrMsg(c, errMsg, http.StatusBadRequest)
	}
	var pageToken PageToken
	if err = json.Unmarshal(tokenData, &pageToken); err != nil || pageToken.Offset < 0 {
		return framework.LoggingRespondErrMsg(c, errMsg, http.StatusBadRequest)
	}
	pageTokenValues, err := url.ParseQuery(pageToken.EncodedQuery)
	if err != nil {
		return framework.LoggingRespondErrMsg(c, errMsg, http.StatusBadRequest)
	}

	query := pageTokenQuery(c)
	if !reflect.DeepEqual(pageTokenValues, query) {
		logrus.Warnf("expected query from token to be equal to query from request. token: %v\nrequest%v", pageTokenValues, query)
		return framework.LoggingRespondErrMsg(c, "page token must be for the same query", http.StatusBadRequest)
	}
	pageRequest.Offset = pageToken.Offset
	return nil
}

func pageTokenQuery(c *gin.Context) url.Values {
	query := c.Request.URL.Query()
	delete(query, PageTokenParam)
	delete(query, PageSizeParam)
	return query
}

// Page cuts the requested page out of items, which must be in a stable order. The returned token is empty on the
// last page.
func Page[T any](c *gin.Context, items []T, pageRequest PageRequest) ([]T, string, error) {
	if pageRequest.Offset >= len(items) {
		return []T{}, "", nil
	}
	items = items[pageRequest.Offset:]
	if pageRequest.PageSize == nil || *pageRequest.PageSize >= len(items) {
		return items, "", nil
	}

	pageToken := PageToken{
		EncodedQuery: pageTokenQuery(c).Encode(),
		Offset:       pageRequest.Offset + *pageRequest.PageSize,
	}
	nextPageTokenData, err := json.Marshal(pageToken)
	if err != nil {
		return nil, "", framework.LoggingRespondErrWithMsg(c, err, "marshalling page token", http.StatusInternalServerError)
	}
	return items[:*pageRequest.PageSize], base64.RawURLEncoding.EncodeToString(nextPageTokenData), nil
}
