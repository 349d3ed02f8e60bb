package contract

// Validator: 单条记录的字段校验与格式化。校验失败属于结果而非错误。
type Validator interface {
	Validate(record string) Outcome
}
