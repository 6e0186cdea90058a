package resultset

import (
	"resource-orm/internal/dbexec"
)

// ScanRows reads every remaining row into a map keyed by result column name.
// The rows are closed before returning.
func ScanRows(rows dbexec.Rows) ([]map[string]interface{}, error) {
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	results := []map[string]interface{}{}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			row[col] = convertValue(values[i])
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

// ScanRow returns the first row, or false when the result is empty.
func ScanRow(rows dbexec.Rows) (map[string]interface{}, bool, error) {
	results, err := ScanRows(rows)
	if err != nil || len(results) == 0 {
		return nil, false, err
	}
	return results[0], true, nil
}

// ScanScalar returns the first column of the first row.
func ScanScalar(rows dbexec.Rows) (interface{}, bool, error) {
	defer rows.Close()

	if !rows.Next() {
		return nil, false, rows.Err()
	}
	var value interface{}
	if err := rows.Scan(&value); err != nil {
		return nil, false, err
	}
	return convertValue(value), true, rows.Err()
}

func convertValue(val interface{}) interface{} {
	if val == nil {
		return nil
	}
	// Text columns arrive as []byte from the MySQL driver.
	if b, ok := val.([]byte); ok {
		return string(b)
	}
	return val
}
