package database_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"detection-backend/internal/database"
	"detection-backend/internal/database/versions/migration_0"
	"detection-backend/internal/database/versions/migration_1"
	"detection-backend/internal/database/versions/migration_2"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func createDB(t *testing.T) *gorm.DB {
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "db", "runs.db"))
	require.NoError(t, err)
	return db
}

func createRun(t *testing.T, db *gorm.DB, labels ...string) database.TrainingRun {
	runId := uuid.New()
	run := database.TrainingRun{
		Id:           runId,
		Name:         "exp",
		Project:      "runs/detect",
		DataDir:      "/data",
		ValSplit:     0.2,
		ModelSize:    "n",
		Pretrained:   true,
		Epochs:       1,
		BatchSize:    2,
		ImgSize:      64,
		Device:       "cpu",
		ExtraArgs:    datatypes.JSON(`{"patience":"3"}`),
		Status:       database.RunQueued,
		CreationTime: time.Now().UTC(),
		Labels:       database.NewRunLabels(runId, labels),
	}
	require.NoError(t, db.Create(&run).Error)
	return run
}

func TestGetRun(t *testing.T) {
	db := createDB(t)
	run := createRun(t, db, "zebra", "ant", "moose")

	got, err := database.GetRun(context.Background(), db, run.Id)
	require.NoError(t, err)

	assert.Equal(t, "exp", got.Name)
	assert.Equal(t, []string{"zebra", "ant", "moose"}, got.LabelNames())
	for i, label := range got.Labels {
		assert.Equal(t, i, label.ClassId)
	}
	assert.JSONEq(t, `{"patience":"3"}`, string(got.ExtraArgs))
}

func TestGetRunNotFound(t *testing.T) {
	db := createDB(t)

	_, err := database.GetRun(context.Background(), db, uuid.New())
	assert.ErrorIs(t, err, database.ErrRunNotFound)
}

func TestUpdateRunStatus(t *testing.T) {
	db := createDB(t)
	run := createRun(t, db, "a")
	ctx := context.Background()

	require.NoError(t, database.UpdateRunStatus(ctx, db, run.Id, database.RunPreparing))
	got, err := database.GetRun(ctx, db, run.Id)
	require.NoError(t, err)
	assert.Equal(t, database.RunPreparing, got.Status)
	assert.True(t, got.StartTime.Valid)
	assert.False(t, got.CompletionTime.Valid)

	require.NoError(t, database.UpdateRunStatus(ctx, db, run.Id, database.RunCompleted))
	got, err = database.GetRun(ctx, db, run.Id)
	require.NoError(t, err)
	assert.Equal(t, database.RunCompleted, got.Status)
	assert.True(t, got.CompletionTime.Valid)
}

func TestSaveRunError(t *testing.T) {
	db := createDB(t)
	run := createRun(t, db, "a")
	ctx := context.Background()

	database.SaveRunError(ctx, db, run.Id, database.OriginSample, "/src/a.jpg", "file exists")
	database.SaveRunError(ctx, db, run.Id, database.OriginTraining, "", "trainer failed")

	got, err := database.GetRun(ctx, db, run.Id)
	require.NoError(t, err)
	require.Len(t, got.Errors, 2)

	byOrigin := map[string]database.RunError{}
	for _, e := range got.Errors {
		byOrigin[e.Origin] = e
	}
	assert.Equal(t, "/src/a.jpg", byOrigin[database.OriginSample].File.String)
	assert.False(t, byOrigin[database.OriginTraining].File.Valid)
	assert.Equal(t, "trainer failed", byOrigin[database.OriginTraining].Error)
}

func TestMigration1(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "old.db")), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, migration_0.Migration(db))

	runId := uuid.New()
	require.NoError(t, db.Create(&migration_0.TrainingRun{
		Id: runId, Name: "old", Project: "p", DataDir: "/d", ModelSize: "m", Status: database.RunCompleted,
	}).Error)

	require.NoError(t, migration_1.Migration(db))

	assert.True(t, db.Migrator().HasColumn(&database.TrainingRun{}, "failed_file_count"))
	assert.True(t, db.Migrator().HasTable(&database.RunError{}))

	var run database.TrainingRun
	require.NoError(t, db.First(&run, "id = ?", runId).Error)
	assert.Equal(t, 0, run.FailedFileCount)

	require.NoError(t, migration_1.Rollback(db))
	assert.False(t, db.Migrator().HasTable(&database.RunError{}))
}

func TestDeleteRun(t *testing.T) {
	db := createDB(t)
	run := createRun(t, db, "car", "truck")
	other := createRun(t, db, "bus")
	database.SaveRunError(context.Background(), db, run.Id, database.OriginSample, "/src/a.jpg", "locked")

	require.NoError(t, database.DeleteRun(context.Background(), db, run.Id))

	_, err := database.GetRun(context.Background(), db, run.Id)
	assert.ErrorIs(t, err, database.ErrRunNotFound)

	var labels, errs int64
	require.NoError(t, db.Model(&database.RunLabel{}).Where("run_id = ?", run.Id).Count(&labels).Error)
	require.NoError(t, db.Model(&database.RunError{}).Where("run_id = ?", run.Id).Count(&errs).Error)
	assert.Zero(t, labels)
	assert.Zero(t, errs)

	kept, err := database.GetRun(context.Background(), db, other.Id)
	require.NoError(t, err)
	assert.Equal(t, []string{"bus"}, kept.LabelNames())

	assert.ErrorIs(t, database.DeleteRun(context.Background(), db, run.Id), database.ErrRunNotFound)
}

func TestRunActive(t *testing.T) {
	for status, active := range map[string]bool{
		database.RunQueued:    true,
		database.RunPreparing: true,
		database.RunTraining:  true,
		database.RunCompleted: false,
		database.RunFailed:    false,
	} {
		assert.Equal(t, active, database.TrainingRun{Status: status}.Active(), status)
	}
}

func TestMigration2(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "old.db")), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, migration_0.Migration(db))
	require.NoError(t, migration_1.Migration(db))

	runId := uuid.New()
	require.NoError(t, db.Create(&migration_0.TrainingRun{
		Id: runId, Name: "old", Project: "p", DataDir: "/d", ModelSize: "m", Status: database.RunCompleted,
	}).Error)

	require.NoError(t, migration_2.Migration(db))
	assert.True(t, db.Migrator().HasColumn(&database.TrainingRun{}, "base_run_id"))

	var run database.TrainingRun
	require.NoError(t, db.First(&run, "id = ?", runId).Error)
	assert.Nil(t, run.BaseRunId)

	require.NoError(t, migration_2.Rollback(db))
	assert.False(t, db.Migrator().HasColumn(&database.TrainingRun{}, "base_run_id"))
}
