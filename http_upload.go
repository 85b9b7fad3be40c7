package market

import (
	"bytes"
	"io"
	"mime"
	"mime/multipart"
	"net/url"
	"strings"
)

// MaxUploadBytes bounds a single uploaded file
const MaxUploadBytes = 5 << 20

// BodyReader is the slice of router.Context the form parser needs
type BodyReader interface {
	Body() []byte
	Header(key string) string
}

// Form is a parsed request body with its uploaded files
type Form struct {
	Values url.Values
	Files  map[string][]Upload
}

// ParseForm reads a multipart or url encoded body. Files above maxFileBytes
// are rejected with a validation error.
func ParseForm(req BodyReader, maxFileBytes int64) (*Form, error) {
	if maxFileBytes <= 0 {
		maxFileBytes = MaxUploadBytes
	}

	form := &Form{Values: url.Values{}, Files: map[string][]Upload{}}

	mediaType, params, err := mime.ParseMediaType(req.Header("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		values, err := url.ParseQuery(string(req.Body()))
		if err != nil {
			return nil, NewValidationError("Failed to parse form.", nil)
		}
		form.Values = values
		return form, nil
	}

	reader := multipart.NewReader(bytes.NewReader(req.Body()), params["boundary"])
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, NewValidationError("Failed to parse form.", nil)
		}

		name := part.FormName()
		if name == "" {
			part.Close()
			continue
		}

		data, err := io.ReadAll(io.LimitReader(part, maxFileBytes+1))
		part.Close()
		if err != nil {
			return nil, NewValidationError("Failed to parse form.", nil)
		}

		if part.FileName() == "" {
			form.Values.Add(name, string(data))
			continue
		}

		if len(data) == 0 {
			continue
		}
		if int64(len(data)) > maxFileBytes {
			return nil, NewValidationError("Uploaded file is too large.", map[string]any{
				"fields": map[string]string{name: "file is too large"},
			})
		}

		form.Files[name] = append(form.Files[name], Upload{
			Field:       name,
			Filename:    part.FileName(),
			ContentType: part.Header.Get("Content-Type"),
			Data:        data,
		})
	}

	return form, nil
}

// Value returns the trimmed first value for key
func (f *Form) Value(key string) string {
	return strings.TrimSpace(f.Values.Get(key))
}

// File returns the first upload for key, or nil
func (f *Form) File(key string) *Upload {
	files := f.Files[key]
	if len(files) == 0 {
		return nil
	}
	upload := files[0]
	return &upload
}
