package provider

import (
	"fmt"
	"strings"

	"github.com/liangwu/tcmprep/internal/model"
)

// SystemMessage returns the assistant system prompt for a category.
func SystemMessage(cat model.ExamCategory) model.ChatMessage {
	return model.ChatMessage{
		Role: model.RoleSystem,
		Content: fmt.Sprintf(
			"你是一位%s资格考试辅导专家，熟悉中医基础理论、中药学、方剂学、针灸学及历年考试要点。"+
				"请用准确、专业且易于理解的中文回答考生的问题，可适当使用 Markdown 列表与重点标注。",
			cat.DisplayName()),
	}
}

// Greeting returns the opening assistant message for a category.
func Greeting(cat model.ExamCategory) model.ChatMessage {
	return model.ChatMessage{
		Role: model.RoleAssistant,
		Content: fmt.Sprintf(
			"您好！我是%s考试AI助手，可以为您解答相关知识和考试问题。请问有什么可以帮助您的吗？",
			cat.DisplayName()),
	}
}

// BuildQuestionPrompt builds the system/user prompt pair asking the
// provider for one well-formed exam question as a JSON object.
func BuildQuestionPrompt(cat model.ExamCategory) (system, user string) {
	var sb strings.Builder
	sb.WriteString("你是" + cat.DisplayName() + "资格考试的命题专家。")
	sb.WriteString("请生成一道符合考试大纲的题目，选择题需包含四个以字母开头的选项（\"A. ...\"），且有且仅有一个正确选项。\n")
	sb.WriteString("只返回一个 JSON 对象，包含以下字段：\n")
	sb.WriteString(`{"question": "<题干>", "type": "multiple-choice" 或 "short-answer", "options": ["A. ...", "B. ...", "C. ...", "D. ..."], "correct_answer": "<选择题为选项字母，简答题为标准答案>"}`)
	sb.WriteString("\n简答题不包含 options 字段。")

	return sb.String(), "请出一道" + cat.DisplayName() + "考试题目。"
}

// BuildEvalPrompt builds the system/user prompt pair asking the provider
// to judge a submitted answer and explain it.
func BuildEvalPrompt(cat model.ExamCategory, q model.Question, submitted string) (system, user string) {
	var sb strings.Builder
	sb.WriteString("你是" + cat.DisplayName() + "资格考试的阅卷专家。考生正在回答以下题目：\n\n")
	sb.WriteString("题目：" + q.Prompt + "\n")
	if len(q.Options) > 0 {
		sb.WriteString("选项：" + strings.Join(q.Options, "；") + "\n")
	}
	sb.WriteString("标准答案：" + q.CanonicalAnswer + "\n\n")
	if q.Kind == model.KindMultipleChoice {
		sb.WriteString("正误以标准答案为准，你只需给出解析。")
	} else {
		sb.WriteString("请判断考生答案是否达到标准答案的要点，并给出解析。")
	}
	sb.WriteString("\n只返回一个 JSON 对象：\n")
	sb.WriteString(`{"is_correct": <true/false>, "explanation": "<针对考生答案的详细解析>"}`)

	return sb.String(), "考生答案：" + submitted
}
