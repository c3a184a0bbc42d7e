package camera

import (
	"math"
	"time"
)

// RetryPolicy はキャプチャ失敗時の指数バックオフ設定
type RetryPolicy struct {
	MaxRetries    int           // 連続失敗の許容回数。これを超えると致命的
	RetryDelay    time.Duration // 初回の待ち時間
	MaxRetryDelay time.Duration // 待ち時間の上限 (0 = 上限なし)
}

// DefaultRetryPolicy はデフォルトのリトライ設定を返す
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:    5,
		RetryDelay:    1 * time.Second,
		MaxRetryDelay: 30 * time.Second,
	}
}

// Backoff は attempt 回目(1始まり)の失敗後の待ち時間を返す
//
//	delay = RetryDelay * 2^(attempt-1)、MaxRetryDelay で頭打ち
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if p.RetryDelay <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}

	shift := min(attempt-1, 62)
	factor := time.Duration(1) << uint(shift)
	delay := p.RetryDelay * factor
	if delay/factor != p.RetryDelay {
		// オーバーフローしたら上限を使う
		delay = time.Duration(math.MaxInt64)
	}
	if p.MaxRetryDelay > 0 && delay > p.MaxRetryDelay {
		delay = p.MaxRetryDelay
	}
	return delay
}
