// Package field 提供 FIX 字段值的解析与格式化.
//
// 所有函数均为无状态纯函数，唯一的共享可变状态是显式的 DateCache.
// 非法输入一律返回 xerrors.ErrFieldConversion 类型的错误，不做宽松解析.
// 日期时间的解析与格式化固定使用 UTC.
package field
