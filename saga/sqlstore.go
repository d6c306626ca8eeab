package saga

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	sagaSql "github.com/go-foreman/conductor/saga/sql"
	"github.com/pkg/errors"
)

const (
	sagaColumns = "id, type, correlation_id, status, current_step_index, total_steps, input, output, context, error, retry_count, max_retries, started_at, completed_at, created_at, updated_at, cancelled_at"
	stepColumns = "id, saga_id, name, step_index, status, input, output, error, retry_count, idempotency_key, started_at, completed_at"
)

type sqlStore struct {
	db     *sql.DB
	driver sagaSql.Driver
}

// NewSQLStore creates sql saga store, it supports mysql and postgres drivers. Tables are created if they don't exist.
// MySQL DSN must have parseTime=true.
func NewSQLStore(db *sql.DB, driver sagaSql.Driver) (Store, error) {
	s := &sqlStore{db: db, driver: driver}
	if err := s.initTables(); err != nil {
		return nil, errors.Wrapf(err, "initializing tables for SQLStore, driver %s", driver)
	}

	return s, nil
}

type sagaSqlModel struct {
	ID               sql.NullString
	Type             sql.NullString
	CorrelationID    sql.NullString
	Status           sql.NullString
	CurrentStepIndex sql.NullInt64
	TotalSteps       sql.NullInt64
	Input            []byte
	Output           []byte
	Context          []byte
	Error            sql.NullString
	RetryCount       sql.NullInt64
	MaxRetries       sql.NullInt64
	StartedAt        sql.NullTime
	CompletedAt      sql.NullTime
	CreatedAt        sql.NullTime
	UpdatedAt        sql.NullTime
	CancelledAt      sql.NullTime
}

type stepSqlModel struct {
	ID             sql.NullString
	SagaID         sql.NullString
	Name           sql.NullString
	StepIndex      sql.NullInt64
	Status         sql.NullString
	Input          []byte
	Output         []byte
	Error          sql.NullString
	RetryCount     sql.NullInt64
	IdempotencyKey sql.NullString
	StartedAt      sql.NullTime
	CompletedAt    sql.NullTime
}

func (s sqlStore) Create(ctx context.Context, instance *Instance) error {
	input, err := marshalPayload(instance.Input)
	if err != nil {
		return errors.Wrapf(err, "marshaling input of saga %s", instance.ID)
	}

	sagaContext, err := marshalPayload(instance.Context)
	if err != nil {
		return errors.Wrapf(err, "marshaling context of saga %s", instance.ID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrapf(err, "beginning a transaction for saga %s", instance.ID)
	}

	_, err = tx.ExecContext(ctx, s.driver.Rebind(fmt.Sprintf("INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);", sagaTableName, sagaColumns)),
		instance.ID,
		instance.Type,
		nullString(instance.CorrelationID),
		instance.Status.String(),
		instance.CurrentStepIndex,
		instance.TotalSteps,
		input,
		nil,
		sagaContext,
		nullString(instance.Error),
		instance.RetryCount,
		instance.MaxRetries,
		instance.StartedAt,
		instance.CompletedAt,
		instance.CreatedAt,
		instance.UpdatedAt,
		instance.CancelledAt,
	)
	if err != nil {
		return rollback(tx, errors.Wrapf(err, "inserting saga instance %s", instance.ID))
	}

	for _, step := range instance.Steps {
		stepInput, err := marshalPayload(step.Input)
		if err != nil {
			return rollback(tx, errors.Wrapf(err, "marshaling input of step %d of saga %s", step.StepIndex, instance.ID))
		}

		_, err = tx.ExecContext(ctx, s.driver.Rebind(fmt.Sprintf("INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);", sagaStepTableName, stepColumns)),
			step.ID,
			instance.ID,
			step.Name,
			step.StepIndex,
			step.Status.String(),
			stepInput,
			nil,
			nullString(step.Error),
			step.RetryCount,
			nullString(step.IdempotencyKey),
			step.StartedAt,
			step.CompletedAt,
		)
		if err != nil {
			return rollback(tx, errors.Wrapf(err, "inserting step %d of saga %s", step.StepIndex, instance.ID))
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrapf(err, "committing saga instance %s into the store", instance.ID)
	}

	return nil
}

func (s sqlStore) GetByID(ctx context.Context, sagaID string) (*Instance, error) {
	sagaData := sagaSqlModel{}

	err := scanSaga(s.db.QueryRowContext(ctx, s.driver.Rebind(fmt.Sprintf("SELECT %s FROM %s WHERE id=?;", sagaColumns, sagaTableName)), sagaID), &sagaData)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "querying saga %s", sagaID)
	}

	instance, err := instanceFromModel(sagaData)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	stepsBySaga, err := s.querySteps(ctx, sagaID)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	instance.Steps = stepsBySaga[sagaID]

	return instance, nil
}

func (s sqlStore) GetByFilter(ctx context.Context, filters ...FilterOption) ([]*Instance, error) {
	opts := &filterOptions{}

	for _, filter := range filters {
		filter(opts)
	}

	if opts.empty() {
		return nil, errors.Errorf("all specified filters are empty, you have to specify at least one so result won't be whole store")
	}

	var (
		args       []interface{}
		conditions []string
	)

	if opts.status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, opts.status.String())
	}

	if opts.sagaType != "" {
		conditions = append(conditions, "type = ?")
		args = append(args, opts.sagaType)
	}

	if opts.correlationID != "" {
		conditions = append(conditions, "correlation_id = ?")
		args = append(args, opts.correlationID)
	}

	query := fmt.Sprintf("SELECT %s FROM %s", sagaColumns, sagaTableName)

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY created_at DESC, id"

	if opts.limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", opts.limit, opts.offset)
	}

	query += ";"

	rows, err := s.db.QueryContext(ctx, s.driver.Rebind(query), args...)
	if err != nil {
		return nil, errors.Wrap(err, "querying sagas with filter")
	}

	defer rows.Close()

	var (
		res []*Instance
		ids []string
	)

	for rows.Next() {
		sagaData := sagaSqlModel{}

		if err := scanSaga(rows, &sagaData); err != nil {
			return nil, errors.Wrap(err, "scanning saga")
		}

		instance, err := instanceFromModel(sagaData)
		if err != nil {
			return nil, errors.WithStack(err)
		}

		res = append(res, instance)
		ids = append(ids, instance.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.WithStack(err)
	}

	if len(res) == 0 {
		return res, nil
	}

	stepsBySaga, err := s.querySteps(ctx, ids...)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	for _, instance := range res {
		instance.Steps = stepsBySaga[instance.ID]
	}

	return res, nil
}

func (s sqlStore) Update(ctx context.Context, instance *Instance, steps []*StepInstance, expected ...Status) (bool, error) {
	output, err := marshalPayload(instance.Output)
	if err != nil {
		return false, errors.Wrapf(err, "marshaling output of saga %s", instance.ID)
	}

	sagaContext, err := marshalPayload(instance.Context)
	if err != nil {
		return false, errors.Wrapf(err, "marshaling context of saga %s", instance.ID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, errors.Wrapf(err, "beginning a transaction for saga %s", instance.ID)
	}

	locked, err := s.lockSaga(ctx, tx, instance.ID, expected)
	if err != nil || !locked {
		return false, rollback(tx, err)
	}

	_, err = tx.ExecContext(ctx, s.driver.Rebind(fmt.Sprintf("UPDATE %s SET status=?, current_step_index=?, output=?, context=?, error=?, retry_count=?, started_at=?, completed_at=?, updated_at=? WHERE id=?;", sagaTableName)),
		instance.Status.String(),
		instance.CurrentStepIndex,
		output,
		sagaContext,
		nullString(instance.Error),
		instance.RetryCount,
		instance.StartedAt,
		instance.CompletedAt,
		instance.UpdatedAt,
		instance.ID,
	)
	if err != nil {
		return false, rollback(tx, errors.Wrapf(err, "updating saga %s", instance.ID))
	}

	for _, step := range steps {
		if err := s.updateStep(ctx, tx, step); err != nil {
			return false, rollback(tx, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, errors.Wrapf(err, "committing update of saga %s", instance.ID)
	}

	return true, nil
}

func (s sqlStore) UpdateStatus(ctx context.Context, instance *Instance, steps []*StepInstance, expected ...Status) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, errors.Wrapf(err, "beginning a transaction for saga %s", instance.ID)
	}

	locked, err := s.lockSaga(ctx, tx, instance.ID, expected)
	if err != nil || !locked {
		return false, rollback(tx, err)
	}

	_, err = tx.ExecContext(ctx, s.driver.Rebind(fmt.Sprintf("UPDATE %s SET status=?, error=?, retry_count=?, completed_at=?, cancelled_at=?, updated_at=? WHERE id=?;", sagaTableName)),
		instance.Status.String(),
		nullString(instance.Error),
		instance.RetryCount,
		instance.CompletedAt,
		instance.CancelledAt,
		instance.UpdatedAt,
		instance.ID,
	)
	if err != nil {
		return false, rollback(tx, errors.Wrapf(err, "updating status of saga %s", instance.ID))
	}

	for _, step := range steps {
		_, err = tx.ExecContext(ctx, s.driver.Rebind(fmt.Sprintf("UPDATE %s SET status=?, error=?, retry_count=?, completed_at=? WHERE id=?;", sagaStepTableName)),
			step.Status.String(),
			nullString(step.Error),
			step.RetryCount,
			step.CompletedAt,
			step.ID,
		)
		if err != nil {
			return false, rollback(tx, errors.Wrapf(err, "updating status of step %d of saga %s", step.StepIndex, step.SagaID))
		}
	}

	if err := tx.Commit(); err != nil {
		return false, errors.Wrapf(err, "committing status of saga %s", instance.ID)
	}

	return true, nil
}

func (s sqlStore) UpdateStep(ctx context.Context, step *StepInstance) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrapf(err, "beginning a transaction for step %d of saga %s", step.StepIndex, step.SagaID)
	}

	if err := s.updateStep(ctx, tx, step); err != nil {
		return rollback(tx, err)
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrapf(err, "committing update of step %d of saga %s", step.StepIndex, step.SagaID)
	}

	return nil
}

func (s sqlStore) Delete(ctx context.Context, sagaID string) error {
	res, err := s.db.ExecContext(ctx, s.driver.Rebind(fmt.Sprintf("DELETE FROM %s WHERE id=?;", sagaTableName)), sagaID)
	if err != nil {
		return errors.Wrapf(err, "executing delete query for saga %s", sagaID)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return errors.Wrapf(err, "getting response of delete query for saga %s", sagaID)
	}

	if rows > 0 {
		return nil
	}

	return errors.Wrapf(ErrSagaNotFound, "deleting saga %s", sagaID)
}

// lockSaga locks the saga row until the end of tx. False is returned when the saga is gone or its status is not one of expected.
func (s sqlStore) lockSaga(ctx context.Context, tx *sql.Tx, sagaID string, expected []Status) (bool, error) {
	var currentStatus string

	err := tx.QueryRowContext(ctx, s.driver.Rebind(fmt.Sprintf("SELECT status FROM %s WHERE id=? FOR UPDATE;", sagaTableName)), sagaID).Scan(&currentStatus)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, errors.Wrapf(err, "locking saga %s", sagaID)
	}

	if len(expected) > 0 && !Status(currentStatus).in(expected...) {
		return false, nil
	}

	return true, nil
}

func (s sqlStore) updateStep(ctx context.Context, tx *sql.Tx, step *StepInstance) error {
	input, err := marshalPayload(step.Input)
	if err != nil {
		return errors.Wrapf(err, "marshaling input of step %d of saga %s", step.StepIndex, step.SagaID)
	}

	output, err := marshalPayload(step.Output)
	if err != nil {
		return errors.Wrapf(err, "marshaling output of step %d of saga %s", step.StepIndex, step.SagaID)
	}

	_, err = tx.ExecContext(ctx, s.driver.Rebind(fmt.Sprintf("UPDATE %s SET status=?, input=?, output=?, error=?, retry_count=?, idempotency_key=?, started_at=?, completed_at=? WHERE id=?;", sagaStepTableName)),
		step.Status.String(),
		input,
		output,
		nullString(step.Error),
		step.RetryCount,
		nullString(step.IdempotencyKey),
		step.StartedAt,
		step.CompletedAt,
		step.ID,
	)
	if err != nil {
		return errors.Wrapf(err, "updating step %d of saga %s", step.StepIndex, step.SagaID)
	}

	return nil
}

func (s sqlStore) querySteps(ctx context.Context, sagaIDs ...string) (map[string][]*StepInstance, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(sagaIDs)), ", ")
	args := make([]interface{}, len(sagaIDs))

	for i, id := range sagaIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, s.driver.Rebind(fmt.Sprintf("SELECT %s FROM %s WHERE saga_id IN (%s) ORDER BY saga_id, step_index;", stepColumns, sagaStepTableName, placeholders)), args...)
	if err != nil {
		return nil, errors.Wrapf(err, "querying steps of sagas %v", sagaIDs)
	}

	defer rows.Close()

	res := make(map[string][]*StepInstance, len(sagaIDs))

	for rows.Next() {
		stepData := stepSqlModel{}

		if err := rows.Scan(
			&stepData.ID,
			&stepData.SagaID,
			&stepData.Name,
			&stepData.StepIndex,
			&stepData.Status,
			&stepData.Input,
			&stepData.Output,
			&stepData.Error,
			&stepData.RetryCount,
			&stepData.IdempotencyKey,
			&stepData.StartedAt,
			&stepData.CompletedAt,
		); err != nil {
			return nil, errors.Wrapf(err, "scanning steps of sagas %v", sagaIDs)
		}

		step, err := stepFromModel(stepData)
		if err != nil {
			return nil, errors.WithStack(err)
		}

		res[step.SagaID] = append(res[step.SagaID], step)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.WithStack(err)
	}

	return res, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSaga(row scanner, sagaData *sagaSqlModel) error {
	return row.Scan(
		&sagaData.ID,
		&sagaData.Type,
		&sagaData.CorrelationID,
		&sagaData.Status,
		&sagaData.CurrentStepIndex,
		&sagaData.TotalSteps,
		&sagaData.Input,
		&sagaData.Output,
		&sagaData.Context,
		&sagaData.Error,
		&sagaData.RetryCount,
		&sagaData.MaxRetries,
		&sagaData.StartedAt,
		&sagaData.CompletedAt,
		&sagaData.CreatedAt,
		&sagaData.UpdatedAt,
		&sagaData.CancelledAt,
	)
}

func instanceFromModel(sagaData sagaSqlModel) (*Instance, error) {
	status, err := statusFromStr(sagaData.Status.String)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing status of %s", sagaData.ID.String)
	}

	instance := &Instance{
		ID:               sagaData.ID.String,
		Type:             sagaData.Type.String,
		CorrelationID:    sagaData.CorrelationID.String,
		Status:           status,
		CurrentStepIndex: int(sagaData.CurrentStepIndex.Int64),
		TotalSteps:       int(sagaData.TotalSteps.Int64),
		Error:            sagaData.Error.String,
		RetryCount:       int(sagaData.RetryCount.Int64),
		MaxRetries:       int(sagaData.MaxRetries.Int64),
		StartedAt:        nullTime(sagaData.StartedAt),
		CompletedAt:      nullTime(sagaData.CompletedAt),
		CreatedAt:        nullTime(sagaData.CreatedAt),
		UpdatedAt:        nullTime(sagaData.UpdatedAt),
		CancelledAt:      nullTime(sagaData.CancelledAt),
	}

	if instance.Input, err = unmarshalPayload(sagaData.Input); err != nil {
		return nil, errors.Wrapf(err, "unmarshaling input of saga %s", instance.ID)
	}

	if instance.Output, err = unmarshalPayload(sagaData.Output); err != nil {
		return nil, errors.Wrapf(err, "unmarshaling output of saga %s", instance.ID)
	}

	if instance.Context, err = unmarshalPayload(sagaData.Context); err != nil {
		return nil, errors.Wrapf(err, "unmarshaling context of saga %s", instance.ID)
	}

	return instance, nil
}

func stepFromModel(stepData stepSqlModel) (*StepInstance, error) {
	status, err := stepStatusFromStr(stepData.Status.String)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing status of step %s", stepData.ID.String)
	}

	step := &StepInstance{
		ID:             stepData.ID.String,
		SagaID:         stepData.SagaID.String,
		Name:           stepData.Name.String,
		StepIndex:      int(stepData.StepIndex.Int64),
		Status:         status,
		Error:          stepData.Error.String,
		RetryCount:     int(stepData.RetryCount.Int64),
		IdempotencyKey: stepData.IdempotencyKey.String,
		StartedAt:      nullTime(stepData.StartedAt),
		CompletedAt:    nullTime(stepData.CompletedAt),
	}

	if step.Input, err = unmarshalPayload(stepData.Input); err != nil {
		return nil, errors.Wrapf(err, "unmarshaling input of step %s", step.ID)
	}

	if step.Output, err = unmarshalPayload(stepData.Output); err != nil {
		return nil, errors.Wrapf(err, "unmarshaling output of step %s", step.ID)
	}

	return step, nil
}

func (s sqlStore) initTables() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*30)
	defer cancel()

	jsonType, timeType := "json", "timestamp(6)"
	if s.driver == sagaSql.PGDriver {
		jsonType, timeType = "jsonb", "timestamptz"
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return errors.WithStack(err)
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`create table if not exists %[1]s
	(
		id varchar(255) not null primary key,
		type varchar(255) not null,
		correlation_id varchar(255) null,
		status varchar(32) not null,
		current_step_index int not null default 0,
		total_steps int not null,
		input %[2]s null,
		output %[2]s null,
		context %[2]s null,
		error text null,
		retry_count int not null default 0,
		max_retries int not null default 0,
		started_at %[3]s null,
		completed_at %[3]s null,
		created_at %[3]s null,
		updated_at %[3]s null,
		cancelled_at %[3]s null
	);`, sagaTableName, jsonType, timeType))
	if err != nil {
		return rollback(tx, errors.WithStack(err))
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`create table if not exists %[1]s
	(
		id varchar(255) not null primary key,
		saga_id varchar(255) not null,
		name varchar(255) not null,
		step_index int not null,
		status varchar(32) not null,
		input %[3]s null,
		output %[3]s null,
		error text null,
		retry_count int not null default 0,
		idempotency_key varchar(255) null,
		started_at %[4]s null,
		completed_at %[4]s null,
		constraint saga_steps_saga_id_step_index_uindex
			unique (saga_id, step_index),
		constraint saga_steps_saga_id_fk
			foreign key (saga_id) references %[2]s (id)
				on update cascade on delete cascade
	);`, sagaStepTableName, sagaTableName, jsonType, timeType))
	if err != nil {
		return rollback(tx, errors.WithStack(err))
	}

	if err := tx.Commit(); err != nil {
		return errors.WithStack(err)
	}

	return nil
}

// rollback rolls the transaction back and returns err, a nil err means the rollback is intended
func rollback(tx *sql.Tx, err error) error {
	if rErr := tx.Rollback(); rErr != nil {
		if err == nil {
			return errors.Wrap(rErr, "rollback")
		}
		return errors.Wrapf(rErr, "rollback when %s", err)
	}

	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}

	res := t.Time

	return &res
}
