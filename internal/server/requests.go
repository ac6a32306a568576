package server

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// requestError is a malformed or invalid request.
type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &requestError{msg: fmt.Sprintf(format, args...)}
}

type addMarkerRequest struct {
	ParentID int64  `json:"parentId" validate:"required,gt=0"`
	Type     string `json:"type" validate:"required,oneof=intro credits"`
	Start    int64  `json:"start" validate:"min=0"`
	End      int64  `json:"end" validate:"gtfield=Start"`
	Final    bool   `json:"final"`
}

type editMarkerRequest struct {
	Type  string `json:"type" validate:"required,oneof=intro credits"`
	Start int64  `json:"start" validate:"min=0"`
	End   int64  `json:"end" validate:"gtfield=Start"`
	Final bool   `json:"final"`
}

type restoreRequest struct {
	MarkerIDs []int64 `json:"markerIds" validate:"required,min=1,dive,gt=0"`
	// Mode is overwrite, merge or ignore, or their numbers 1 to 3.
	Mode string `json:"mode" validate:"required"`
}

type ignoreRequest struct {
	MarkerIDs []int64 `json:"markerIds" validate:"required,min=1,dive,gt=0"`
}

// decode reads a JSON body into v and validates it.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest("invalid JSON body: %v", err)
	}
	if err := getValidator().Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			if fe.Param() != "" {
				return badRequest("%s fails %s=%s", fe.Field(), fe.Tag(), fe.Param())
			}
			return badRequest("%s fails %s", fe.Field(), fe.Tag())
		}
		return badRequest("%v", err)
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("%s must be a positive integer", name)
	}
	return id, nil
}

// idList parses a comma separated list of positive ids.
func idList(raw, name string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return nil, badRequest("%s: %q is not a positive integer", name, part)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, badRequest("%s is required", name)
	}
	return ids, nil
}

// timeParam accepts RFC 3339 or unix seconds. An empty value is the zero time.
func timeParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, badRequest("%s must be RFC 3339 or unix seconds", name)
	}
	return t, nil
}
