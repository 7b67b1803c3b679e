// Package engine содержит правила порядка шагов workflow.
//
// Включает:
//   - rules.go    — выбор предшественника шага (ResolvePredecessor)
//     и проверку последовательности шагов перед запуском
//   - validate.go — проверку содержимого конфигураций шагов
//
// Engine не знает о очереди и backend: он только отвечает на вопрос,
// может ли шаг быть запущен и на каком выходе он будет строиться.
package engine
