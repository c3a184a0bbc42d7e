// Package camera キャプチャデバイスの所有とフレーム生成を担う
//
// # 責務
// - キャプチャデバイスを唯一の所有者として開閉する
// - デバイスから生フレーム(RGB24)を取得し、シーケンス番号を付与する
// - 取得したフレームをエンコードしてハブへ公開する
// - キャプチャ失敗時の指数バックオフ付きリトライ
// - V4L2デバイスの検出
//
// # 仕様
// - Device: 1つのゴルーチン(Source.Run)からのみ使用する。並行呼び出しは未定義
// - FFmpegDevice: ffmpeg経由でV4L2デバイスまたはX11画面から rawvideo(rgb24) を読み取る
// - TestPatternDevice: ハードウェア無しで動作確認するための合成映像
// - Source: キャプチャ → エンコード → 公開 を順に実行する生成側ループ
//   - キャプチャ失敗はリトライ上限を超えると ErrDeviceUnavailable を返す（プロセス全体として致命的）
//   - エンコード失敗はそのフレームだけを捨てて次へ進む
//   - シーケンス番号は捨てたフレームも含めてキャプチャした順に振る
//
// # 前提要件
//   - v4l-utils: カメラ名の取得に使用
//     Ubuntu/Debian: sudo apt install v4l-utils
//   - ffmpeg: 画像キャプチャに使用
//     Ubuntu/Debian: sudo apt install ffmpeg
//   - videoグループへの参加: デバイスアクセス権限
//     sudo usermod -a -G video $USER
package camera
