package app

import (
	"encoding/base64"
	"io"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// maxLocalBody mirrors the API Gateway payload limit for the local server.
const maxLocalBody = 6 * 1024 * 1024

// ProxyRequest converts r into the event API Gateway would deliver. The body
// is always base64 encoded, as API Gateway does for binary media types.
func ProxyRequest(r *http.Request) (events.APIGatewayProxyRequest, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxLocalBody+1))
	if err != nil {
		return events.APIGatewayProxyRequest{}, err
	}

	headers := make(map[string]string, len(r.Header))
	for k, v := range r.Header {
		headers[k] = v[0]
	}
	query := make(map[string]string)
	for k, v := range r.URL.Query() {
		query[k] = v[0]
	}

	return events.APIGatewayProxyRequest{
		Path:                  r.URL.Path,
		HTTPMethod:            r.Method,
		Headers:               headers,
		MultiValueHeaders:     r.Header,
		QueryStringParameters: query,
		Body:                  base64.StdEncoding.EncodeToString(body),
		IsBase64Encoded:       true,
	}, nil
}

// Router serves the App over plain HTTP for local development.
func (app *App) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.NoRoute(func(c *gin.Context) {
		req, err := ProxyRequest(c.Request)
		if err != nil {
			c.String(http.StatusBadRequest, "failed to read body")
			return
		}
		if len(req.Body) > base64.StdEncoding.EncodedLen(maxLocalBody) {
			c.String(http.StatusRequestEntityTooLarge, "request body too large")
			return
		}

		resp, err := app.HandleRequest(c.Request.Context(), req)
		if err != nil {
			c.String(http.StatusInternalServerError, err.Error())
			return
		}
		writeResponse(c, resp)
	})
	return r
}

func writeResponse(c *gin.Context, resp events.APIGatewayProxyResponse) {
	for k, v := range resp.Headers {
		c.Header(k, v)
	}
	for k, vs := range resp.MultiValueHeaders {
		for _, v := range vs {
			c.Writer.Header().Add(k, v)
		}
	}

	body := []byte(resp.Body)
	if resp.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(resp.Body)
		if err != nil {
			log.WithError(err).Error("handler returned invalid base64 body")
			c.Status(http.StatusInternalServerError)
			return
		}
		body = decoded
	}
	c.Status(resp.StatusCode)
	if _, err := c.Writer.Write(body); err != nil {
		log.WithError(err).Debug("failed to write response")
	}
}
