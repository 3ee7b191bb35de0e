package eventhandler

import "github.com/ac-hub/atcoder-ranking-hub/internal/domain/shared"

// Subscription связывает тип события с обработчиком.
type Subscription struct {
	Event   shared.EventType
	Name    string
	Handler shared.EventHandler
	// Retries - сколько раз повторить обработчик после ошибки.
	Retries int
}

// Subscriptions перечисляет подписки для заданных обработчиков. nil-обработчик
// (например, кеш выключен) не даёт подписок.
func Subscriptions(cache *RankingCacheHandler, notify *NotifyHandler) []Subscription {
	var subs []Subscription
	if cache != nil {
		subs = append(subs,
			Subscription{shared.EventSubmissionScored, "ranking_cache.update", cache.OnSubmissionScored, 2},
			Subscription{shared.EventWeeklyReportCreated, "ranking_cache.close_week", cache.OnWeeklyReportCreated, 2},
			Subscription{shared.EventUserRegistered, "ranking_cache.membership", cache.OnMembershipChanged, 2},
			Subscription{shared.EventUserDeactivated, "ranking_cache.membership", cache.OnMembershipChanged, 2},
		)
	}
	if notify != nil {
		for _, t := range []shared.EventType{
			shared.EventSubmissionScored,
			shared.EventStreakThresholdCrossed,
			shared.EventGoalMilestoneReached,
			shared.EventTopRankChanged,
			shared.EventWeeklyReportCreated,
			shared.EventWeeklyWinnerDecided,
		} {
			subs = append(subs, Subscription{t, "notify." + string(t), notify.Handle, 1})
		}
	}
	return subs
}
