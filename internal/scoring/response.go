// Package scoring 实现审核评分模型：回答到分值的映射，以及按分区汇总。
//
// 包内所有函数都是纯函数，不做任何 I/O。分值使用 decimal 精确计算，
// 只有展示层才调用 Round1 做一位小数的舍入。
package scoring

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Response 审核题目的回答取值（封闭枚举）
type Response string

const (
	Yes           Response = "yes"
	No            Response = "no"
	Partial       Response = "partial"
	NotApplicable Response = "not_applicable"
)

// ErrInvalidResponse 回答不在枚举范围内
var ErrInvalidResponse = errors.New("invalid response value")

// ValidationError 携带被拒绝的原始值
type ValidationError struct {
	Value string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %q", ErrInvalidResponse.Error(), e.Value)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidResponse
}

var points = map[Response]decimal.Decimal{
	Yes:           decimal.NewFromInt(1),
	No:            decimal.NewFromInt(-1),
	Partial:       decimal.New(5, -1),
	NotApplicable: decimal.Zero,
}

// Responses 按固定顺序返回全部合法取值
func Responses() []Response {
	return []Response{Yes, No, Partial, NotApplicable}
}

// Valid 判断取值是否在枚举内
func (r Response) Valid() bool {
	_, ok := points[r]
	return ok
}

// ScoreOf 返回回答对应的分值，非法取值返回 *ValidationError，绝不默认为 0
func ScoreOf(r Response) (decimal.Decimal, error) {
	p, ok := points[r]
	if !ok {
		return decimal.Zero, &ValidationError{Value: string(r)}
	}
	return p, nil
}

// ParseResponse 在边界处把原始字符串解析为 Response
func ParseResponse(raw string) (Response, error) {
	r := Response(strings.ToLower(strings.TrimSpace(raw)))
	if !r.Valid() {
		return "", &ValidationError{Value: raw}
	}
	return r, nil
}

// Round1 展示用，保留一位小数
func Round1(d decimal.Decimal) float64 {
	f, _ := d.Round(1).Float64()
	return f
}
