package models

import "time"

// SessionKey identifies a SessionVault: (site_domain, proxy_identity).
// proxy_identity is "default" when no proxy is used — this keeps a proxy
// rotation from silently inheriting another proxy's trust history (§4.5).
type SessionKey struct {
	Domain        string `json:"domain"`
	ProxyIdentity string `json:"proxy_identity"`
}

const DefaultProxyIdentity = "default"

// SessionVault is a persisted, reusable browser session (§3, §4.5).
type SessionVault struct {
	Key            SessionKey        `json:"key"`
	Cookies        []byte            `json:"cookies"` // opaque, engine-specific encoding
	StorageState   []byte            `json:"storage_state"`
	UserAgent      string            `json:"user_agent"`
	Viewport       string            `json:"viewport"`
	FirstSeen      time.Time         `json:"first_seen"`
	LastSuccess    time.Time         `json:"last_success"`
	TotalUses      int               `json:"total_uses"`
	FailureStreak  int               `json:"failure_streak"`
	CaptchaCount   int               `json:"captcha_count"`
	Extra          map[string]string `json:"extra,omitempty"`
}

// TrustBreakdown is the itemized scoring behind one trust evaluation,
// logged on reuse per §4.5 ("on reuse log the trust breakdown").
type TrustBreakdown struct {
	Base             float64 `json:"base"`
	AgePenalty       float64 `json:"age_penalty"`
	FailurePenalty   float64 `json:"failure_penalty"`
	RecencyBonus     float64 `json:"recency_bonus"`
	UsePenalty       float64 `json:"use_penalty"`
	HardCapPenalty   float64 `json:"hard_cap_penalty"`
	Score            float64 `json:"score"`
}
