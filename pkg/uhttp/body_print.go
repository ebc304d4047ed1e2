package uhttp

// Implements a debugging facility for request responses. This changes
// the behavior of `BaseHttpClient` with an unexported flag.

import (
	"context"
	"io"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"
)

type printReader struct {
	ctx    context.Context
	reader io.ReadCloser
}

func (pr *printReader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	if n > 0 {
		ctxzap.Extract(pr.ctx).Debug("response body", zap.ByteString("chunk", p[:n]))
	}

	return n, err
}

func (pr *printReader) Close() error {
	return pr.reader.Close()
}

func wrapPrintBody(ctx context.Context, body io.ReadCloser) io.ReadCloser {
	return &printReader{ctx: ctx, reader: body}
}

type printBodyOption struct {
	debugPrintBody bool
}

func (o printBodyOption) Apply(c *BaseHttpClient) {
	c.debugPrintBody = o.debugPrintBody
}

func WithPrintBody(shouldPrint bool) WrapperOption {
	return printBodyOption{debugPrintBody: shouldPrint}
}
