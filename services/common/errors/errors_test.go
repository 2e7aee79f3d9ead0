package errors

import (
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestWrap_DoesNotMutateTemplate(t *testing.T) {
	cause := stderrors.New("db down")
	wrapped := Wrap(ErrServiceUnavailable, cause)

	assert.Nil(t, ErrServiceUnavailable.Err)
	assert.ErrorIs(t, wrapped, cause)
	assert.Equal(t, "Service unavailable: db down", wrapped.Error())
}

func TestErrorMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(ErrorMiddleware())
	r.GET("/typed", func(c *gin.Context) {
		_ = c.Error(WithKind(http.StatusConflict, "ALREADY_CHARGED", "Order already charged", nil))
	})
	r.GET("/plain", func(c *gin.Context) {
		_ = c.Error(stderrors.New("boom"))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/typed", nil))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.JSONEq(t, `{"error":"Order already charged","code":"ALREADY_CHARGED"}`, w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/plain", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"Internal server error"}`, w.Body.String())
}
