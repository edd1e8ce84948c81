package paper

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/citeai/citeai/internal/sections"
)

// Request asks for one generated paper.
type Request struct {
	Topic     string   `json:"topic" validate:"notblank,max=500"`
	WordLimit int      `json:"wordLimit" validate:"min=1,max=20000"`
	Sections  []string `json:"sections" validate:"min=1,max=30,uniquefold,dive,notblank,max=120"`

	// Model overrides the configured model id.
	Model string `json:"model,omitempty" validate:"max=200"`
	// Background is appended to the prompt as source material.
	Background string `json:"background,omitempty"`
}

// Normalize trims the topic, model and every section label.
func (r *Request) Normalize() {
	r.Topic = strings.TrimSpace(r.Topic)
	r.Model = strings.TrimSpace(r.Model)
	for i, s := range r.Sections {
		r.Sections[i] = strings.TrimSpace(s)
	}
}

// ValidationError lists the invalid fields of a request.
type ValidationError struct {
	Fields map[string]string `json:"fields"`
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	msgs := make([]string, len(names))
	for i, name := range names {
		msgs[i] = e.Fields[name]
	}
	return "invalid request: " + strings.Join(msgs, "; ")
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func requestValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New()
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
			return strings.TrimSpace(fl.Field().String()) != ""
		})
		v.RegisterValidation("uniquefold", func(fl validator.FieldLevel) bool {
			seen := make(map[string]bool)
			f := fl.Field()
			for i := range f.Len() {
				// Labels that share a key would overwrite each other's bodies.
				k := sections.Key(f.Index(i).String())
				if seen[k] {
					return false
				}
				seen[k] = true
			}
			return true
		})
		validate = v
	})
	return validate
}

// Validate checks the request. The returned error is a *ValidationError.
func (r Request) Validate() error {
	err := requestValidator().Struct(r)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	out := &ValidationError{Fields: make(map[string]string)}
	for _, fe := range verrs {
		field := fe.Field()
		if _, dup := out.Fields[field]; dup {
			continue
		}
		out.Fields[field] = fieldMessage(fe)
	}
	return out
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "notblank":
		if strings.Contains(fe.Namespace(), "sections[") {
			return "section labels must not be blank"
		}
		return fmt.Sprintf("%s is required", field)
	case "min":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("%s needs at least %s entry", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "uniquefold":
		return "section labels must be unique"
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}
