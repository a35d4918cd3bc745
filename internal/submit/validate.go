/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package submit checks a whole test module before it is submitted. Editing
// never enforces answer completeness; this is the only place it is checked,
// and it stops at the first problem found.
package submit

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"

	"ieltsauthor/internal/domain"
	"ieltsauthor/internal/table"
	"ieltsauthor/internal/upload"
)

var (
	validate   *validator.Validate
	translator ut.Translator

	// custom validation tags
	answerTag   = "answer"
	artifactTag = "artifact"
)

func init() {
	validate = validator.New()

	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ = uni.GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(validate, translator)

	// Use JSON tag names for errors instead of Go struct names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	validate.RegisterStructValidation(questionStructValidation, domain.Question{})
	registerFn := func(ut.Translator) error { return nil }
	for _, tag := range []string{answerTag, artifactTag} {
		_ = validate.RegisterTranslation(tag, translator, registerFn, translateCustom)
	}
}

func translateCustom(_ ut.Translator, fe validator.FieldError) string {
	switch fe.Tag() {
	case answerTag:
		return "correct answer cannot be blank"
	case artifactTag:
		if p := fe.Param(); p != "" {
			return p
		}
		return "question has no usable artifact"
	default:
		return ""
	}
}

// questionStructValidation adds the checks that depend on the question type:
// a non-blank correct answer and a non-empty, durable artifact.
func questionStructValidation(sl validator.StructLevel) {
	q, ok := sl.Current().Interface().(domain.Question)
	if !ok {
		return
	}
	switch q.Type {
	case domain.TypeFlowChart:
		switch {
		case strings.TrimSpace(q.ImageURL) == "":
			sl.ReportError(q.ImageURL, "imageUrl", "ImageURL", artifactTag, "flow chart has no image")
		case upload.IsLocalPreview(q.ImageURL):
			sl.ReportError(q.ImageURL, "imageUrl", "ImageURL", artifactTag, "image was never uploaded")
		case q.Field == nil:
			sl.ReportError(q.Field, "field", "Field", artifactTag, "flow chart question has no field")
		}
	case domain.TypeTableCompletion:
		switch {
		case q.TableStructure == nil:
			sl.ReportError(q.TableStructure, "tableStructure", "TableStructure", artifactTag, "table question has no table")
		case len(table.BlankIDs(*q.TableStructure)) == 0:
			sl.ReportError(q.TableStructure, "tableStructure", "TableStructure", artifactTag, "table has no blanks")
		case !containsInt(table.BlankIDs(*q.TableStructure), q.BlankID):
			sl.ReportError(q.BlankID, "blankId", "BlankID", artifactTag, fmt.Sprintf("blank %d is not in the table", q.BlankID))
		}
	default:
		return
	}
	if strings.TrimSpace(q.CorrectAnswer) == "" {
		sl.ReportError(q.CorrectAnswer, "correctAnswer", "CorrectAnswer", answerTag, "")
	}
}

var ErrInvalid = errors.New("test module is not ready for submission")

// Error locates the first problem found.
type Error struct {
	Part     int
	Question int
	Field    string
	Message  string
}

func (e *Error) Error() string {
	if e.Question > 0 {
		return fmt.Sprintf("part %d, question %d: %s: %s", e.Part, e.Question, e.Field, e.Message)
	}
	return fmt.Sprintf("part %d: %s", e.Part, e.Message)
}

func (e *Error) Unwrap() error { return ErrInvalid }

// Validate checks every part in order and every question in number order.
func Validate(m domain.TestModule) error {
	if len(m.Parts) == 0 {
		return &Error{Message: "module has no parts"}
	}
	for _, p := range m.Parts {
		qs := append([]domain.Question(nil), p.Questions...)
		sort.SliceStable(qs, func(i, j int) bool { return qs[i].Number < qs[j].Number })
		seen := map[int]bool{}
		for _, q := range qs {
			if seen[q.Number] {
				return &Error{Part: p.Number, Question: q.Number, Field: "number", Message: "duplicate question number"}
			}
			seen[q.Number] = true
			if err := validate.Struct(q); err != nil {
				var verrs validator.ValidationErrors
				if errors.As(err, &verrs) && len(verrs) > 0 {
					fe := verrs[0]
					return &Error{Part: p.Number, Question: q.Number, Field: fe.Field(), Message: fe.Translate(translator)}
				}
				return fmt.Errorf("validate question %d: %w", q.Number, err)
			}
		}
	}
	return nil
}

func containsInt(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}
