package itinerary

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lvtu-ai/travel-planner/internal/types"
)

const promptTemplate = `你是一位专业的旅行规划师。请为以下旅行需求生成详细的%d天旅行路线规划。

目的地：%s
出发日期：%s
旅行天数：%d天
出行人员：%s
旅行偏好：%s
饮食偏好：%s
预算范围：%s - %s 元

%s请按照以下JSON格式返回路线规划（重点：按早/中/晚分段，并给出“点到点通勤”细节、游玩时长、注意事项）：
{
    "day_1": {
        "date": "%s",
        "theme": "主题描述",
        "schedule": {
            "morning": [
                {
                    "type": "spot",
                    "name": "景点名称",
                    "description": "景点简介/看点",
                    "play_time_minutes": 90,
                    "recommended_time": "建议游览时间（例如 1-2小时）",
                    "notes": ["注意事项1", "注意事项2"],
                    "commute_from_prev": {
                        "mode": "步行/地铁/公交/打车",
                        "duration_minutes": 15,
                        "transfers": 1,
                        "details": "是否换乘、建议线路/站点等提示"
                    }
                }
            ],
            "afternoon": [
                {
                    "type": "restaurant",
                    "name": "餐厅名称",
                    "cuisine": "菜系",
                    "description": "餐厅特色与推荐菜",
                    "price_range": "人均/价格范围",
                    "play_time_minutes": 60,
                    "notes": ["注意事项（例如需排队/预约）"],
                    "commute_from_prev": {
                        "mode": "地铁",
                        "duration_minutes": 25,
                        "transfers": 1,
                        "details": "换乘站点、出站口建议等"
                    }
                }
            ],
            "evening": []
        },
        "tips": "当日旅行小贴士"
    },
    "day_2": {...},
    ...
}

要求：
1. 每天安排3-5个主要活动
2. 考虑交通便利性和时间合理性
3. 结合用户的旅行偏好和饮食偏好
4. 控制预算在指定范围内
5. 对每个活动给出合理的 play_time_minutes（分钟）
6. 对每个活动尽量给出 notes（注意事项），没有则给空数组 []
7. 对 morning/afternoon/evening 每个列表中，从第二个点开始给出 commute_from_prev（通勤方式/耗时/换乘次数/提示）
8. 确保路线连贯，避免重复路线
9. 不要输出除 JSON 外的任何文字

请直接返回JSON格式，不要包含其他文字说明。`

// BuildPrompt renders the itinerary-generation prompt for one trip. Pure
// string assembly: same request, same prompt.
func BuildPrompt(trip *types.TripRequest) string {
	interests := joinPreferences(trip.Interests)
	food := joinPreferences(trip.FoodPreferences)
	startDate := trip.StartDate.Format("2006-01-02")

	return fmt.Sprintf(promptTemplate,
		trip.Days,
		trip.Destination,
		startDate,
		trip.Days,
		trip.Travelers,
		interests,
		food,
		formatBudget(trip.BudgetMin),
		formatBudget(trip.BudgetMax),
		referenceNotesBlock(trip.Notes),
		startDate,
	)
}

func joinPreferences(prefs []string) string {
	if len(prefs) == 0 {
		return "无特殊偏好"
	}
	return strings.Join(prefs, "、")
}

func formatBudget(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// referenceNotesBlock renders fetched note content as a priority-reference
// section placed ahead of the generic instructions, so the model favours
// places the user saved over its own ideas. Empty when no note has content.
func referenceNotesBlock(notes []types.NoteRef) string {
	var body strings.Builder
	for _, note := range notes {
		if note.Title == "" && note.Content == "" {
			continue
		}
		body.WriteString(fmt.Sprintf("\n笔记：%s\n%s\n", note.Title, note.Content))
	}
	if body.Len() == 0 {
		return ""
	}
	return fmt.Sprintf("【优先参考】以下是用户收藏的小红书笔记内容，规划景点与餐厅时请优先采纳笔记中提到的推荐：%s\n", body.String())
}
