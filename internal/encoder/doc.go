// Package encoder は生フレームをJPEGに変換するエンコード段を提供します。
//
// 1フレームのエンコード失敗はそのフレームだけの問題として扱い、
// 呼び出し側はエラーを記録して次のフレームへ進みます。
package encoder
