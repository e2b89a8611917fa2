package analysis

import "fmt"

// speedRule 目标重量区间到推荐快加速度的映射
type speedRule struct {
	minWeight float64 // 含
	maxWeight float64 // 不含
	speed     int
}

var speedRules = []speedRule{
	{100, 125, 70},
	{125, 175, 72},
	{175, 225, 74},
	{225, 275, 76},
	{275, 325, 78},
	{325, 375, 80},
	{375, 400, 82},
}

// RecommendCoarseSpeed 根据目标重量推荐初始快加速度档位
// 表外重量按边界档兜底：<100g 用 70 档，>=400g 用 82 档
func RecommendCoarseSpeed(targetWeight float64) (int, string) {
	for _, r := range speedRules {
		if r.minWeight <= targetWeight && targetWeight < r.maxWeight {
			return r.speed, fmt.Sprintf("重量 %.1fg 在范围 %.0f-%.0fg 内，推荐快加速度 %d 档",
				targetWeight, r.minWeight, r.maxWeight, r.speed)
		}
	}
	if targetWeight < 100 {
		return 70, fmt.Sprintf("重量 %.1fg 小于最小范围，使用最小速度 70 档", targetWeight)
	}
	return 82, fmt.Sprintf("重量 %.1fg 大于最大范围，使用最大速度 82 档", targetWeight)
}
