package embedding

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestCodeForStatus 测试HTTP状态码到错误码的归类
func TestCodeForStatus(t *testing.T) {
	assert.Equal(t, ErrCodeInvalidAPIKey, codeForStatus(http.StatusUnauthorized))
	assert.Equal(t, ErrCodeInvalidAPIKey, codeForStatus(http.StatusForbidden))
	assert.Equal(t, ErrCodeRateLimited, codeForStatus(http.StatusTooManyRequests))
	assert.Equal(t, ErrCodeInvalidRequest, codeForStatus(http.StatusBadRequest))
	assert.Equal(t, ErrCodeServerError, codeForStatus(http.StatusInternalServerError))
	assert.Equal(t, ErrCodeServerError, codeForStatus(http.StatusBadGateway))
}

// TestEmbeddingErrorMessage 测试错误文本携带错误码
func TestEmbeddingErrorMessage(t *testing.T) {
	err := NewEmbeddingError(ErrCodeEmptyInput, ErrMsgEmptyInput)
	assert.Contains(t, err.Error(), "1007")
	assert.Contains(t, err.Error(), ErrMsgEmptyInput)
}
