// ABOUTME: Parses the browser's multipart send form into a Request
// ABOUTME: Collects file_<n> uploads in field order and the optional audio clip

package forwarder

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/2389/chatwoot-relay/internal/apierr"
)

// MaxFormMemory is the part of a send form kept in memory before spilling to disk.
const MaxFormMemory = 32 << 20

// ParseRequest reads the multipart (or urlencoded) send form.
func ParseRequest(r *http.Request) (*Request, error) {
	if err := r.ParseMultipartForm(MaxFormMemory); err != nil && err != http.ErrNotMultipart {
		return nil, apierr.Validation("invalid form: %v", err)
	}

	req := &Request{
		AgentID:        r.FormValue("agentId"),
		SessionID:      r.FormValue("sessionId"),
		UserEmail:      r.FormValue("userEmail"),
		UserName:       r.FormValue("userName"),
		ConversationID: strings.TrimSpace(r.FormValue("conversationId")),
		Message:        r.FormValue("message"),
		VideoAnalysis:  r.FormValue("videoAnalysis") == "true",
		WebhookURL:     r.FormValue("webhookUrl"),
	}

	if r.MultipartForm == nil {
		return req, nil
	}

	var fields []string
	for field := range r.MultipartForm.File {
		if strings.HasPrefix(field, "file_") {
			fields = append(fields, field)
		}
	}
	sort.Slice(fields, func(i, j int) bool { return fileIndex(fields[i]) < fileIndex(fields[j]) })

	for _, field := range fields {
		for _, header := range r.MultipartForm.File[field] {
			file, err := readFile(field, header)
			if err != nil {
				return nil, err
			}
			req.Files = append(req.Files, file)
		}
	}

	if headers := r.MultipartForm.File["audio"]; len(headers) > 0 {
		audio, err := readFile("audio", headers[0])
		if err != nil {
			return nil, err
		}
		req.Audio = &audio
	}
	return req, nil
}

// fileIndex orders file_2 before file_10; unnumbered fields sort last.
func fileIndex(field string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(field, "file_"))
	if err != nil {
		return int(^uint(0) >> 1)
	}
	return n
}

func readFile(field string, header *multipart.FileHeader) (File, error) {
	f, err := header.Open()
	if err != nil {
		return File{}, fmt.Errorf("opening upload %s: %w", field, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return File{}, fmt.Errorf("reading upload %s: %w", field, err)
	}

	name := strings.TrimSpace(header.Filename)
	return File{
		Field:       field,
		Filename:    name,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}
