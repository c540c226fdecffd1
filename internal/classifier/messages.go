package classifier

import (
	"strings"

	"castline/internal/types"
)

// Message catalog keys. Operators can override any of these through the
// message_settings table; absent overrides fall back to the compiled-in
// defaults below.
const (
	MsgCheckinLink      = "checkin_link"
	MsgCheckinReminder  = "checkin_reminder"
	MsgThanksGood       = "thanks_good"
	MsgThanksNormal     = "thanks_normal"
	MsgThanksSupport    = "thanks_support"
	MsgThanksNegative   = "thanks_negative_supplement"
	MsgStreamEndReply   = "stream_end_reply"
	MsgStreamEndUsed    = "stream_end_used"
	MsgCommentVeryGood  = "done_comment_very_good"
	MsgCommentGood      = "done_comment_good"
	MsgCommentNormal    = "done_comment_normal"
	MsgCommentBad       = "done_comment_bad"
	MsgCommentVeryBad   = "done_comment_very_bad"
	MsgActionPre        = "done_action_pre"
	MsgActionLive       = "done_action_live"
	MsgActionPost       = "done_action_post"
	MsgStreamEndKeyword = "stream_end_keyword"
)

// defaultMessages carries the shipped texts. Placeholders use {name}, {url}
// and {date} and are expanded by the builders.
var defaultMessages = map[string]string{
	MsgCheckinLink:     "{name}さん、今日の配信おつかれさまでした!\n本日の振り返りはこちらから↓\n{url}\n(このリンクは翌日のお昼まで有効です)",
	MsgCheckinReminder: "{name}さん、本日の振り返りがまだのようです。\nお時間あるときにこちらからどうぞ↓\n{url}",
	MsgThanksGood:      "振り返りありがとうございます!今日もとても良いペースです。この調子でいきましょう!",
	MsgThanksNormal:    "振り返りありがとうございます!明日もマイペースで頑張っていきましょう。",
	MsgThanksSupport:   "振り返りありがとうございます。少しお疲れのようですね。無理せず、困ったことがあればいつでも担当までご相談ください。",
	MsgThanksNegative:  "\n\nつらい気持ちを書いてくれてありがとうございます。担当スタッフから改めてご連絡しますね。",
	MsgStreamEndReply:  "配信おつかれさまでした!\n本日の振り返りはこちらから↓\n{url}",
	MsgStreamEndUsed:   "本日の振り返りはすでに提出済みです。おつかれさまでした!",
	MsgCommentVeryGood: "ほぼ完璧な一日でした。素晴らしい取り組みです!",
	MsgCommentGood:     "しっかり取り組めています。良い流れを継続しましょう。",
	MsgCommentNormal:   "基本はできています。あと一歩、習慣を整えていきましょう。",
	MsgCommentBad:      "今日は少し乱れがあったようです。明日は一つだけ改善を意識してみましょう。",
	MsgCommentVeryBad:  "今日は大変な一日でしたね。まずは休息を優先してください。",
	MsgActionPre:       "次回は配信前の準備(告知・タイトル設定)を一つ早めに済ませてみましょう。",
	MsgActionLive:      "次回は配信中のコメント拾いと時間配分を意識してみましょう。",
	MsgActionPost:      "次回は配信後のお礼投稿とアーカイブ整理を忘れずに。",

	// Inbound trigger word. A chat message that contains this substring
	// makes the webhook hand back the day's check-in link.
	MsgStreamEndKeyword: "配信終了",
}

// Catalog resolves message texts, consulting operator overrides first and
// the shipped defaults second. The zero value serves pure defaults.
type Catalog struct {
	overrides map[string]string
}

// NewCatalog builds a catalog over the given override set. The map is
// referenced, not copied; callers hand in a settings snapshot.
func NewCatalog(overrides map[string]string) Catalog {
	return Catalog{overrides: overrides}
}

// Get returns the text for key, or "" for an unknown key.
func (c Catalog) Get(key string) string {
	if v, ok := c.overrides[key]; ok && v != "" {
		return v
	}
	return defaultMessages[key]
}

// Comment returns the result-page comment for an outcome level.
func (c Catalog) Comment(level types.OutcomeLevel) string {
	switch level {
	case types.OutcomeVeryGood:
		return c.Get(MsgCommentVeryGood)
	case types.OutcomeGood:
		return c.Get(MsgCommentGood)
	case types.OutcomeNormal:
		return c.Get(MsgCommentNormal)
	case types.OutcomeBad:
		return c.Get(MsgCommentBad)
	default:
		return c.Get(MsgCommentVeryBad)
	}
}

// NextAction returns the result-page improvement suggestion for the weakest
// activity area.
func (c Catalog) NextAction(level types.OutcomeLevel, weak types.WeakArea) string {
	// Top performers still get a concrete pointer; the area pick stays valid
	// even when nothing was missed.
	switch weak {
	case types.WeakPre:
		return c.Get(MsgActionPre)
	case types.WeakPost:
		return c.Get(MsgActionPost)
	default:
		return c.Get(MsgActionLive)
	}
}

// Thanks returns the push message sent after a completed check-in. The five
// outcome levels collapse to three tones: the top two share the upbeat
// text, normal stands alone, and the bottom two share the supportive text.
// A negative-lexicon hit appends the follow-up supplement.
func (c Catalog) Thanks(level types.OutcomeLevel, negative bool) string {
	var base string
	switch level {
	case types.OutcomeVeryGood, types.OutcomeGood:
		base = c.Get(MsgThanksGood)
	case types.OutcomeNormal:
		base = c.Get(MsgThanksNormal)
	default:
		base = c.Get(MsgThanksSupport)
	}
	if negative {
		base += c.Get(MsgThanksNegative)
	}
	return base
}

// CheckinLink renders the daily check-in push message.
func (c Catalog) CheckinLink(name, url, date string) string {
	return render(c.Get(MsgCheckinLink), name, url, date)
}

// Reminder renders the manual nudge for streamers who have not submitted.
func (c Catalog) Reminder(name, url, date string) string {
	return render(c.Get(MsgCheckinReminder), name, url, date)
}

// StreamEndReply renders the webhook reply carrying a fresh check-in link.
func (c Catalog) StreamEndReply(url string) string {
	return render(c.Get(MsgStreamEndReply), "", url, "")
}

// StreamEndUsed returns the reply for a keyword hit after the day's
// check-in was already submitted.
func (c Catalog) StreamEndUsed() string {
	return c.Get(MsgStreamEndUsed)
}

// StreamEndKeyword returns the inbound trigger word for link reissue.
func (c Catalog) StreamEndKeyword() string {
	return c.Get(MsgStreamEndKeyword)
}

func render(template, name, url, date string) string {
	return strings.NewReplacer(
		"{name}", name,
		"{url}", url,
		"{date}", date,
	).Replace(template)
}
