package affect

// Guidance returns behavior hints for a persona prompt, derived from the
// trust, openness, avoidance and resistance bands of s.
func Guidance(s State) []string {
	var out []string

	switch {
	case s.Trust < 0.3:
		out = append(out, "信任度较低：保持谨慎，只分享表面信息")
	case s.Trust < 0.6:
		out = append(out, "信任度适中：可以分享一些具体细节，但避免最敏感的内容")
	default:
		out = append(out, "信任度较高：可以分享深层信息和真实感受")
	}

	if s.Openness < 0.4 {
		out = append(out, "开放度较低：回应较简短，可能需要咨询师多次引导")
	} else {
		out = append(out, "开放度较高：愿意详细描述情况和感受")
	}

	if s.Avoidance > 0.6 {
		out = append(out, "回避倾向强：对敏感话题容易转移话题或回避")
	}
	if s.Resistance > 0.5 {
		out = append(out, "抗拒程度高：对咨询师的建议可能表现出质疑或不配合")
	}
	if s.Chattiness > 0.7 {
		out = append(out, "比较健谈：回应可以稍长，偶尔跑题")
	}
	return out
}

var emotionGuides = map[Emotion]string{
	Anxious:   "表现出紧张、担心，语速可能较快，容易转移话题",
	Depressed: "语调低沉，回应较少，可能表达无助感",
	Confused:  "表现出困惑、不确定，经常说'不知道'",
	Angry:     "语气可能较冲，容易情绪化，可能对建议有抗拒",
	Calm:      "情绪相对平稳，能够理性地交流",
	Hopeful:   "积极一些，愿意尝试建议",
	Resistant: "对咨询师的话有质疑，可能不太配合",
	Trusting:  "更愿意分享，语气较为放松",
	Avoidant:  "回避深入话题，可能转移话题",
	Open:      "比较愿意交流，会分享更多细节",
	Other:     "根据具体情况灵活表现",
}

// EmotionGuide returns the expression hint for e.
func EmotionGuide(e Emotion) string {
	if g, ok := emotionGuides[e]; ok {
		return g
	}
	return "保持自然的情绪表达"
}
