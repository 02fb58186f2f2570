package agents

import (
	"fmt"
	"strings"

	"github.com/pescn/psy-data-gen/coreengine/affect"
	"github.com/pescn/psy-data-gen/coreengine/phase"
	"github.com/pescn/psy-data-gen/coreengine/session"
)

// phaseGuide is the per-phase brief given to the counselor.
type phaseGuide struct {
	Title  string
	Goals  []string
	Rules  []string
	Length string
}

var phaseGuides = map[phase.Phase]phaseGuide{
	phase.Introduction: {
		Title:  "引入与建立关系阶段",
		Goals:  []string{"建立信任和安全的咨询氛围", "初步了解来访者的基本情况", "让来访者感到被理解和接纳"},
		Rules:  []string{"温暖接纳，积极倾听，多用反映性回应", "只询问基本情况，不触及敏感话题", "不给出建议，不提出结束会话"},
		Length: "50-150字",
	},
	phase.Exploration: {
		Title:  "深入探索阶段",
		Goals:  []string{"系统了解问题的情境、情绪、认知与行为", "发掘更深层的背景和动机", "帮助来访者更好地理解自己的困扰"},
		Rules:  []string{"使用具体化技术，如\"能具体说说\"", "跟随来访者的节奏，持续提供情感支持", "适时总结并与来访者确认"},
		Length: "80-200字",
	},
	phase.Assessment: {
		Title:  "评估诊断阶段",
		Goals:  []string{"整合已收集的信息，形成专业判断", "用通俗的语言解释问题并获得认同", "在解释问题的同时给予希望"},
		Rules:  []string{"强调问题是可以改善的", "为量表推荐做铺垫", "不提出结束会话"},
		Length: "100-250字",
	},
	phase.ScaleRecommendation: {
		Title:  "量表推荐阶段",
		Goals:  []string{"推荐1-2个最相关的心理测评量表", "说明量表的作用和后续安排", "总结本次咨询的收获"},
		Rules:  []string{"具体说出量表名称", "表达肯定和鼓励"},
		Length: "80-180字",
	},
}

// PhaseTitle returns the Chinese display name of p.
func PhaseTitle(p phase.Phase) string {
	if g, ok := phaseGuides[p]; ok {
		return g.Title
	}
	return string(p)
}

// CounselorSystemPrompt builds the counselor's system prompt for phase p.
func CounselorSystemPrompt(counselor, student Persona, p phase.Phase) string {
	var b strings.Builder
	b.WriteString("# 角色：心理咨询师\n")
	fmt.Fprintf(&b, "你是心理咨询师%s", counselor.Name)
	if counselor.Approach != "" {
		fmt.Fprintf(&b, "，主要采用%s取向", counselor.Approach)
	}
	b.WriteString("。始终保持专业身份，以共情和理解为先。\n")
	if len(counselor.Techniques) > 0 {
		fmt.Fprintf(&b, "常用技术：%s\n", strings.Join(counselor.Techniques, "、"))
	}
	if counselor.Background != "" {
		fmt.Fprintf(&b, "背景：%s\n", counselor.Background)
	}
	if summary := student.Summary(); summary != "" {
		fmt.Fprintf(&b, "\n## 来访者信息\n%s\n", summary)
	}

	if g, ok := phaseGuides[p]; ok {
		fmt.Fprintf(&b, "\n## 当前阶段：%s\n### 阶段目标\n", g.Title)
		writeList(&b, g.Goals)
		b.WriteString("### 行为指导\n")
		writeList(&b, g.Rules)
		fmt.Fprintf(&b, "### 回复要求\n- 回复长度：%s\n- 只输出要说的话，不要描述动作或表情\n", g.Length)
	}
	if counselor.Instructions != "" {
		fmt.Fprintf(&b, "\n%s\n", counselor.Instructions)
	}
	return b.String()
}

// StudentSystemPrompt builds the student's system prompt from the persona and
// its current affect.
func StudentSystemPrompt(student Persona, s affect.State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "你是正在接受心理咨询的大学生%s。\n", student.Name)
	if summary := student.Summary(); summary != "" {
		fmt.Fprintf(&b, "基本信息：%s\n", summary)
	}
	if len(student.Traits) > 0 {
		fmt.Fprintf(&b, "性格特征：%s\n", strings.Join(student.Traits, "、"))
	}
	if student.Background != "" {
		fmt.Fprintf(&b, "背景与困扰：\n%s\n", student.Background)
	}

	b.WriteString("\n## 行为原则\n")
	writeList(&b, []string{
		"根据信任度逐步透露信息，不要一次说出所有问题",
		"使用口语化的学生语言，避免专业术语",
		"对敏感问题可以回避、转移话题或说不知道",
	})

	fmt.Fprintf(&b, "\n## 当前状态\n- 信任度：%.1f\n- 开放度：%.1f\n- 信息透露度：%.1f\n- 情绪：%s\n",
		s.Trust, s.Openness, s.InformationRevealed, s.Emotion)
	fmt.Fprintf(&b, "情绪表现：%s\n", affect.EmotionGuide(s.Emotion))
	if lines := affect.Guidance(s); len(lines) > 0 {
		b.WriteString("行为调整：\n")
		writeList(&b, lines)
	}
	b.WriteString("\n## 回复要求\n- 回复长度50-200字\n- 只输出要说的话，不要描述动作或表情\n")
	if student.Instructions != "" {
		fmt.Fprintf(&b, "\n%s\n", student.Instructions)
	}
	return b.String()
}

// EvaluatorSystemPrompt is the fixed system prompt of the round evaluator.
func EvaluatorSystemPrompt() string {
	return "你是心理咨询督导。阅读一段咨询对话，评估学生的状态、当前阶段的完成情况和风险等级，" +
		"并给出是否进入下一阶段的建议。只输出符合给定结构的JSON对象。"
}

// EvaluationPrompt renders the evaluator's view of the round.
func EvaluationPrompt(ec EvaluationContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## 会话进度\n- 总轮次：%d\n- 当前阶段：%s（%s）\n- 本阶段已进行：%d轮\n",
		ec.Round, PhaseTitle(ec.Phase), ec.Phase, ec.PhaseRound)
	if ec.MinRoundsPerPhase > 0 || ec.MaxRoundsPerPhase > 0 {
		fmt.Fprintf(&b, "- 每阶段建议轮次：%d-%d\n", ec.MinRoundsPerPhase, ec.MaxRoundsPerPhase)
	}
	if len(ec.Next) == 0 {
		b.WriteString("- 当前为最后阶段。若咨询已完成，recommended_phase 填 end\n")
	} else {
		next := make([]string, len(ec.Next))
		for i, p := range ec.Next {
			next[i] = string(p)
		}
		fmt.Fprintf(&b, "- 可进入的下一阶段：%s\n", strings.Join(next, ", "))
	}

	fmt.Fprintf(&b, "\n## 学生当前状态\n- 信任度：%.2f\n- 开放度：%.2f\n- 信息透露度：%.2f\n- 情绪：%s\n",
		ec.Affect.Trust, ec.Affect.Openness, ec.Affect.InformationRevealed, ec.Affect.Emotion)
	if ec.Student.Issue != "" {
		fmt.Fprintf(&b, "- 主要问题：%s\n", ec.Student.Issue)
	}

	b.WriteString("\n## 对话记录\n")
	for _, t := range ec.History {
		speaker := "学生"
		if t.Speaker == session.RoleCounselor {
			speaker = "咨询师"
		}
		fmt.Fprintf(&b, "[第%d轮] %s：%s\n", t.RoundNumber, speaker, t.Content)
	}

	b.WriteString("\n## 要求\n")
	writeList(&b, []string{
		"need_transition 为 false 时 recommended_phase 填 none",
		"风险等级为0-5的整数，出现自杀、自伤或伤人意图时如实评估",
		"所有0-1的评分保留两位小数",
	})
	return b.String()
}

// BackgroundSystemPrompt is the fixed system prompt of the background generator.
func BackgroundSystemPrompt() string {
	return "你是心理咨询数据生成专家，为模拟咨询生成一名大学生来访者和一名咨询师的完整背景。" +
		"所有信息要相互一致，形成完整可信的故事。只输出符合给定结构的JSON对象。"
}

// BackgroundPrompt renders the generation request with the issue and
// approach catalogs.
func BackgroundPrompt(req BackgroundRequest) string {
	var b strings.Builder
	b.WriteString("## 心理问题参考\n")
	for _, i := range issues {
		fmt.Fprintf(&b, "- %s（%s）：常见症状 %s；学生可能这样说：%s\n",
			i.Key, i.Name, strings.Join(i.Symptoms, "、"), i.Expression)
	}
	b.WriteString("\n## 咨询流派参考\n")
	for _, a := range approaches {
		fmt.Fprintf(&b, "- %s（%s）：%s\n", a.Key, a.Name, strings.Join(a.Style, "、"))
	}

	b.WriteString("\n## 生成任务\n")
	if issue, ok := LookupIssue(req.Issue); ok {
		fmt.Fprintf(&b, "学生的核心问题指定为 %s（%s）。\n", issue.Key, issue.Name)
		if req.Description != "" {
			fmt.Fprintf(&b, "补充背景：%s\n", req.Description)
		}
	} else {
		b.WriteString("从参考列表中随机选择一个心理问题作为学生的核心问题。\n")
	}

	b.WriteString("\n## 要求\n")
	writeList(&b, []string{
		"学生背景真实可信，符合大学生特点，年龄18-25岁",
		"症状以学生的主观体验描述，避免专业术语",
		"initial_question 单独填写，30-80字，谨慎试探，只说最表面的困扰",
		"symptom_description 不包含 initial_question 的内容",
		"咨询师流派与学生问题相匹配，从业3-15年",
	})
	return b.String()
}

func writeList(b *strings.Builder, items []string) {
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
}
