package server

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/loykin/appsupervisor/internal/registry"
)

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	return strings.TrimRight(bp, "/")
}

func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

// httpStatusFor maps the core's coarse Result enum onto an HTTP status,
// mirroring the teacher's pattern of mapping every manager error onto one of
// a handful of status codes rather than a bespoke code per handler.
func httpStatusFor(res registry.Result) int {
	switch res {
	case registry.OK:
		return 200
	case registry.NotFound:
		return 404
	case registry.BadParameter:
		return 400
	case registry.Duplicate:
		return 409
	case registry.Overflow:
		return 413
	default:
		return 500
	}
}

func writeResult(c *gin.Context, res registry.Result) {
	if res == registry.OK {
		writeJSON(c, 200, okResp{OK: true})
		return
	}
	writeJSON(c, httpStatusFor(res), errorResp{Error: res.String()})
}

func parsePID(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
