package store

import (
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// recordValidate 持久化记录共用的校验器实例，init 中注册自定义规则
var recordValidate *validator.Validate

func init() {
	recordValidate = validator.New(validator.WithRequiredStructEnabled())

	// 使用 json 标签作为字段名，告警信息与文件内容对得上
	recordValidate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = recordValidate.RegisterValidation("isotime", validateISOTime)
}

// validateISOTime 字段必须是可解析的 RFC3339 时间戳
func validateISOTime(fl validator.FieldLevel) bool {
	_, err := time.Parse(time.RFC3339Nano, fl.Field().String())
	return err == nil
}

// ValidateStruct 按 validate 标签校验结构体
func ValidateStruct(v any) error {
	return recordValidate.Struct(v)
}
