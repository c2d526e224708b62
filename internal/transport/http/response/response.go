package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Resp 统一响应信封 {code,msg,data}
type Resp struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data any    `json:"data"`
}

// New data 为 nil 时输出 {}，前端不用判空
func New(code int, msg string, data any) Resp {
	if data == nil {
		data = struct{}{}
	}
	return Resp{Code: code, Msg: msg, Data: data}
}

func OK(data any) Resp {
	return New(CodeOK, CodeMsgMap[CodeOK], data)
}

// Error customMsg 为空时取默认文案，未登记的 code 退回 http.StatusText
func Error(code int, customMsg string) Resp {
	msg := customMsg
	if msg == "" {
		msg = MsgOf(code)
	}
	return New(code, msg, nil)
}

func MsgOf(code int) string {
	if m, ok := CodeMsgMap[code]; ok {
		return m
	}
	return http.StatusText(code)
}

// Abort 中间件里的短路返回，业务码与 HTTP 状态一致
func Abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, Error(status, msg))
}
