package credstore

import (
	"context"
	"database/sql"
	"reflect"
)

type (
	TableDef struct {
		Name       string
		Columns    []ColumnDef
		PrimaryKey []string
		Unique     []UniqueDef
	}

	UniqueDef struct {
		Name    string
		Columns []string
	}

	ColumnDef struct {
		Name     string
		Datatype string
	}

	queryer interface {
		QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	}
)

// HasUnique reports if the table has a unique index covering exactly the
// given columns (order matters).
func (t *TableDef) HasUnique(columns ...string) bool {
	for _, u := range t.Unique {
		if reflect.DeepEqual(u.Columns, columns) {
			return true
		}
	}
	return false
}

func describeTable(ctx context.Context, db queryer, name string) (*TableDef, error) {
	td := TableDef{
		Name: name,
	}

	type tableInfoRow struct {
		name     string
		datatype string
		pk       bool
	}
	rows, err := db.QueryContext(ctx, `select name, type, pk from pragma_table_info(?) order by name`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var row tableInfoRow
		err = rows.Scan(&row.name, &row.datatype, &row.pk)
		if err != nil {
			return nil, err
		}
		td.Columns = append(td.Columns, ColumnDef{Name: row.name, Datatype: row.datatype})
		if row.pk {
			td.PrimaryKey = append(td.PrimaryKey, row.name)
		}
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	if len(td.Columns) == 0 {
		return nil, sql.ErrNoRows
	}
	uniqueIdx, err := listUniqueIndexes(ctx, db, name)
	if err != nil {
		return nil, err
	}
	for _, v := range uniqueIdx {
		udef, err := loadUniqueDef(ctx, db, v)
		if err != nil {
			return nil, err
		}
		td.Unique = append(td.Unique, udef)
	}
	return &td, nil
}

func loadUniqueDef(ctx context.Context, db queryer, name string) (UniqueDef, error) {
	rows, err := db.QueryContext(ctx, `select name from pragma_index_info(?) order by seqno`, name)
	if err != nil {
		return UniqueDef{}, err
	}
	defer rows.Close()
	ud := UniqueDef{
		Name: name,
	}
	for rows.Next() {
		var name string
		err = rows.Scan(&name)
		if err != nil {
			return UniqueDef{}, err
		}
		ud.Columns = append(ud.Columns, name)
	}
	return ud, rows.Err()
}

func listUniqueIndexes(ctx context.Context, db queryer, name string) ([]string, error) {
	rows, err := db.QueryContext(ctx, `select name from pragma_index_list(?) where [unique] = 1 order by name`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ret []string
	for rows.Next() {
		var name string
		err = rows.Scan(&name)
		if err != nil {
			return nil, err
		}
		ret = append(ret, name)
	}
	return ret, rows.Err()
}
