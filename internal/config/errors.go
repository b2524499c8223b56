package config

import (
	"errors"
	"fmt"
)

// FieldError 描述单个配置字段的校验失败，Field 使用 Global.X / Worker.X / Origin[name].X 形式的路径。
type FieldError struct {
	Field  string
	Reason string
	Err    error
}

func (e FieldError) Error() string {
	if e.Reason == "" && e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Field, e.Err.Error())
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e FieldError) Unwrap() error {
	return e.Err
}

func newFieldError(field, reason string) error {
	return FieldError{Field: field, Reason: reason}
}

// wrapFieldError 把底层校验错误挂到字段路径上，调用方仍可用 errors.Is 判断原始错误。
func wrapFieldError(field string, err error) error {
	if err == nil {
		return nil
	}
	return FieldError{Field: field, Err: err}
}

// AsFieldError 从错误链中提取 FieldError。
func AsFieldError(err error) (FieldError, bool) {
	var fieldErr FieldError
	if errors.As(err, &fieldErr) {
		return fieldErr, true
	}
	return FieldError{}, false
}

func globalField(field string) string { return "Global." + field }

func workerField(field string) string { return "Worker." + field }

func originField(name, field string) string {
	return fmt.Sprintf("Origin[%s].%s", name, field)
}
