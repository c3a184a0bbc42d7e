// Package broadcast は1つのフレーム生成側とN人の視聴者を切り離すハブを提供します。
//
// # 責務
// - 最新のエンコード済みフレームを1枠だけ保持する（latest-wins）
// - 視聴者の登録・登録解除
// - 各視聴者の送信済みシーケンス番号の管理
//
// # 仕様
// - Publish はキューイングせず上書きする。履歴は保持しない
// - 新しい視聴者は登録時点より後に公開されたフレームだけを受け取る
// - Publish は視聴者の読み取り速度に影響されず、視聴者の登録・解除も Publish を妨げない
// - 視聴者の送信済み位置は Viewer 自身が持ち、生成側と共有しない
// - 1人の視聴者に対してシーケンス番号は厳密に単調増加し、重複しない
package broadcast
