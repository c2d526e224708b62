package ez

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"connect-api/internal/domain"
	resp "connect-api/internal/transport/http/response"
)

// EZ 路由分组上的一行注册封装
type EZ struct {
	g   *gin.RouterGroup
	log *zap.Logger
}

func New(g *gin.RouterGroup, l *zap.Logger) EZ {
	if l == nil {
		l = zap.NewNop()
	}
	return EZ{g: g, log: l}
}

type Binder string

const (
	BindJSON  Binder = "json"  // 从 JSON 绑定
	BindQuery Binder = "query" // 从 URL ?a=b 绑定
	BindNone  Binder = "none"  // 不绑定，自己从 c.Param 取
)

// Action I 入参，O 出参
type Action[I any, O any] struct {
	Method  string
	Path    string
	Binder  Binder
	Status  int // 成功时的 HTTP 状态码，默认 200
	Handler func(c *gin.Context, in *I) (O, error)
}

func RegisterAction[I any, O any](e EZ, a Action[I, O]) {
	status := a.Status
	if status == 0 {
		status = http.StatusOK
	}
	h := func(c *gin.Context) {
		var in I
		var bindErr error
		switch a.Binder {
		case BindJSON:
			bindErr = c.ShouldBindJSON(&in)
		case BindQuery:
			bindErr = c.ShouldBindQuery(&in)
		}
		if bindErr != nil {
			Fail(c, e.log, domain.Validation(BindMessage(bindErr)))
			return
		}

		out, err := a.Handler(c, &in)
		if err != nil {
			Fail(c, e.log, err)
			return
		}
		c.JSON(status, resp.OK(out))
	}

	switch strings.ToUpper(a.Method) {
	case http.MethodGet:
		e.g.GET(a.Path, h)
	case http.MethodPut:
		e.g.PUT(a.Path, h)
	case http.MethodDelete:
		e.g.DELETE(a.Path, h)
	default:
		e.g.POST(a.Path, h)
	}
}

// StatusOf 错误类别到 HTTP 状态码，全项目唯一映射点
func StatusOf(k domain.Kind) int {
	switch k {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindUnauthorized:
		return http.StatusUnauthorized
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Fail 写错误响应并终止；Internal 只记日志，不把原因返回给客户端
func Fail(c *gin.Context, l *zap.Logger, err error) {
	kind := domain.KindOf(err)
	status := StatusOf(kind)
	msg := err.Error()
	if kind == domain.KindInternal {
		if l != nil {
			l.Error("request failed",
				zap.String("path", c.FullPath()),
				zap.String("rid", c.GetString("rid")),
				zap.Error(err),
				zap.NamedError("cause", errors.Unwrap(err)),
			)
		}
		msg = ""
	}
	resp.Abort(c, status, msg)
}

// BindMessage 把 validator 的报错转成 "field: rule" 形式
func BindMessage(err error) string {
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return "request body too large"
		}
		return "invalid request body"
	}
	parts := make([]string, 0, len(ves))
	for _, fe := range ves {
		parts = append(parts, fieldMessage(fe))
	}
	return strings.Join(parts, "; ")
}

func fieldMessage(fe validator.FieldError) string {
	name := lowerFirst(fe.Field())
	switch fe.Tag() {
	case "required":
		return name + " is required"
	case "email":
		return name + " must be a valid email"
	case "min", "max":
		bound := "at least"
		if fe.Tag() == "max" {
			bound = "at most"
		}
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must be %s %s characters", name, bound, fe.Param())
		}
		return fmt.Sprintf("%s must be %s %s", name, bound, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid (%s)", name, fe.Tag())
	}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
