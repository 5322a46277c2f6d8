package httputil

import (
	"encoding/json"

	"github.com/valyala/fasthttp"
)

// APIResponse is the unified response envelope for the ops API
type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// JSONResponse sends a JSON response with the unified envelope
func JSONResponse(ctx *fasthttp.RequestCtx, success bool, message string, data interface{}, statusCode int) {
	body, _ := json.Marshal(APIResponse{
		Success: success,
		Message: message,
		Data:    data,
	})
	ctx.SetStatusCode(statusCode)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

// JSONError is a convenience wrapper for error responses
func JSONError(ctx *fasthttp.RequestCtx, message string, statusCode int) {
	JSONResponse(ctx, false, message, nil, statusCode)
}

// JSONSuccess is a convenience wrapper for success responses with no data
func JSONSuccess(ctx *fasthttp.RequestCtx, message string, statusCode int) {
	JSONResponse(ctx, true, message, nil, statusCode)
}

// JSONData is a convenience wrapper for success responses with data
func JSONData(ctx *fasthttp.RequestCtx, data interface{}, statusCode int) {
	JSONResponse(ctx, true, "", data, statusCode)
}

// SetRequestID stamps the response with the request identifier so ops calls
// can be correlated with log lines.
func SetRequestID(ctx *fasthttp.RequestCtx, id string) {
	if id != "" {
		ctx.Response.Header.Set("X-Request-ID", id)
	}
}
