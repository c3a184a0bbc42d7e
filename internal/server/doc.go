// Package server は、HTTPサーバーと視聴者への配信を管理します。
//
// このパッケージは、リスナーの起動、ルーティング、
// MJPEG/WebSocketによるフレーム配信を担当します。
//
// 責務:
//   - HTTPサーバーの起動とグレースフルシャットダウン
//   - multipart/x-mixed-replace によるMJPEGストリーム配信
//   - WebSocketによるバイナリフレーム配信
//   - スナップショット、ヘルスチェック、ステータスの提供
//
// 仕様:
//   - ルーティングはgin、WebSocketはgorilla/websocketを使用
//   - 接続ごとにゴルーチンが割り当てられ、受け付けはフレーム待ちで止まらない
//   - 遅い視聴者は最新フレームだけを受け取り、他の視聴者や生成側を遅らせない
//   - 視聴者への書き込みエラーはその接続だけを閉じる
package server
