package orchestrator

import (
	"fmt"
	"time"

	"github.com/ternarybob/pactum/internal/models"
)

// stageWeights are the shares of overall progress, summing to 100
var stageWeights = map[models.ProcessingState]int{
	models.StateUploaded:            5,
	models.StateExtractingMain:      40,
	models.StateExtractingItems:     20,
	models.StateAggregating:         10,
	models.StateValidating:          5,
	models.StateReconcilingExternal: 15,
	models.StateCompleted:           5,
}

// StageNames are the display names of the stages
var StageNames = map[models.ProcessingState]string{
	models.StateUploaded:            "Файл загружен",
	models.StateExtractingMain:      "Извлечение данных",
	models.StateExtractingItems:     "Извлечение услуг",
	models.StateAggregating:         "Объединение результатов",
	models.StateValidating:          "Валидация",
	models.StateReconcilingExternal: "Синхронизация с учётной системой",
	models.StateCompleted:           "Завершено",
	models.StateFailed:              "Ошибка",
}

// OverallProgress weights the stages before stage fully and stage itself by stageProgress percent
func OverallProgress(stage models.ProcessingState, stageProgress int) int {
	if stageProgress < 0 {
		stageProgress = 0
	}
	if stageProgress > 100 {
		stageProgress = 100
	}

	total := 0
	for _, s := range models.StageOrder {
		if s == stage {
			return total + stageWeights[s]*stageProgress/100
		}
		total += stageWeights[s]
	}
	return 0
}

// newProgress builds the externally visible progress of a stage. With a chunk total the
// stage progress follows the processed chunks.
func newProgress(stage models.ProcessingState, stageProgress int, message string, processed, total int) models.Progress {
	if total > 0 {
		stageProgress = processed * 100 / total
		if message == "" {
			message = fmt.Sprintf("Обработка чанков: %d/%d", processed, total)
		}
	}
	if message == "" {
		message = StageNames[stage]
	}
	return models.Progress{
		Stage:           stage,
		StageName:       StageNames[stage],
		StageIndex:      stage.StageIndex(),
		TotalStages:     len(models.StageOrder),
		StageProgress:   stageProgress,
		OverallProgress: OverallProgress(stage, stageProgress),
		Message:         message,
		ChunksTotal:     total,
		ChunksProcessed: processed,
		UpdatedAt:       time.Now(),
	}
}
