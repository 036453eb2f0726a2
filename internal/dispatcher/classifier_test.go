package dispatcher

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// httpStatusErr 使用HTTPStatusCode拼写的第三方风格错误
type httpStatusErr struct {
	code int
}

func (e *httpStatusErr) Error() string       { return fmt.Sprintf("upstream status %d", e.code) }
func (e *httpStatusErr) HTTPStatusCode() int { return e.code }

func TestDefaultClassifierStatusCodes(t *testing.T) {
	tests := []struct {
		name  string
		code  int
		fatal bool
	}{
		{"400错误请求致命", 400, true},
		{"401未认证致命", 401, true},
		{"403禁止访问致命", 403, true},
		{"404未找到致命", 404, true},
		{"408请求超时可重试", 408, false},
		{"429限流可重试", 429, true}, // 4xx范围内且非408
		{"500服务器错误可重试", 500, false},
		{"502网关错误可重试", 502, false},
		{"503服务不可用可重试", 503, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := &StatusError{Code: tt.code}
			assert.Equal(t, tt.fatal, DefaultClassifier(err))
		})
	}
}

func TestDefaultClassifierStatusOutranksHeuristics(t *testing.T) {
	// 状态码是最具体的信号：包裹的错误类型不再影响分类
	wrapped := &StatusError{Code: 503, Err: errors.New("service melted")}
	assert.False(t, DefaultClassifier(wrapped), "5xx应该可重试，无论包裹了什么错误")

	viaWrap := fmt.Errorf("request failed: %w", &StatusError{Code: 404})
	assert.True(t, DefaultClassifier(viaWrap), "errors.As应该穿透包装找到状态码")
}

func TestDefaultClassifierHTTPStatusCodeSpelling(t *testing.T) {
	assert.True(t, DefaultClassifier(&httpStatusErr{code: 404}), "HTTPStatusCode拼写也应该被识别")
	assert.False(t, DefaultClassifier(&httpStatusErr{code: 502}))
}

func TestDefaultClassifierProgramErrors(t *testing.T) {
	_, numErr := strconv.Atoi("not-a-number")
	require.Error(t, numErr)
	assert.True(t, DefaultClassifier(numErr), "数字解析错误是程序性错误，应该致命")

	_, reErr := regexp.Compile("([unclosed")
	require.Error(t, reErr)
	assert.True(t, DefaultClassifier(fmt.Errorf("bad pattern: %w", reErr)),
		"正则语法错误应该致命，且可穿透包装")
}

func TestDefaultClassifierPlainErrorsRetryable(t *testing.T) {
	assert.False(t, DefaultClassifier(errors.New("connection refused")))
	assert.False(t, DefaultClassifier(fmt.Errorf("dial tcp: %w", errors.New("timeout"))))
}

func TestClassifierGroup(t *testing.T) {
	sentinel := errors.New("poison")
	group := ClassifierGroup{
		func(err error) bool { return false },
		func(err error) bool { return errors.Is(err, sentinel) },
	}

	assert.True(t, group.Fatal(sentinel), "任一成员命中即为致命")
	assert.False(t, group.Fatal(errors.New("other")))
	assert.False(t, ClassifierGroup{}.Fatal(sentinel), "空组不命中任何错误")
}

func TestStatusErrorFormatting(t *testing.T) {
	withCause := &StatusError{Code: 502, Err: errors.New("bad gateway")}
	assert.Equal(t, "HTTP 502: bad gateway", withCause.Error())
	assert.Equal(t, errors.New("bad gateway").Error(), withCause.Unwrap().Error())

	bare := &StatusError{Code: 404}
	assert.Equal(t, "HTTP 404", bare.Error())
	assert.Nil(t, bare.Unwrap())
}

func TestNormalizeFatalShapes(t *testing.T) {
	// nil回落到默认规则
	c, err := normalizeFatal(nil)
	require.NoError(t, err)
	assert.True(t, c(&StatusError{Code: 404}))

	// 自定义谓词
	c, err = normalizeFatal(func(err error) bool { return true })
	require.NoError(t, err)
	assert.True(t, c(errors.New("anything")))

	// nil谓词同样回落到默认规则
	c, err = normalizeFatal(Classifier(nil))
	require.NoError(t, err)
	assert.False(t, c(errors.New("plain")))
}
