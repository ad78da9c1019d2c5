// ABOUTME: Multipart helpers shared by forwarder tests
// ABOUTME: Builds browser-like send forms

package forwarder

import (
	"mime/multipart"
	"strings"
	"testing"
)

// multipartBody writes a form into buf and returns its content type.
func multipartBody(t *testing.T, buf *strings.Builder, fields map[string]string, files [][2]string) string {
	t.Helper()
	w := multipart.NewWriter(buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("WriteField: %v", err)
		}
	}
	for _, f := range files {
		part, err := w.CreateFormFile(f[0], f[1])
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		_, _ = part.Write([]byte(f[1]))
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return w.FormDataContentType()
}
