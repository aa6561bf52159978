package postgres

import (
	"context"
	"fmt"
	"reflect"

	"github.com/lib/pq"
	"gorm.io/gorm/schema"
)

func init() {
	schema.RegisterSerializer("textarray", textArraySerializer{})
}

// textArraySerializer хранит []string в колонке text[]. Доменная модель не
// знает о драйвере, преобразование живёт здесь.
type textArraySerializer struct{}

func (textArraySerializer) Scan(ctx context.Context, field *schema.Field, dst reflect.Value, dbValue any) error {
	var arr pq.StringArray
	switch v := dbValue.(type) {
	case nil:
	case []string:
		arr = v
	default:
		if err := arr.Scan(v); err != nil {
			return fmt.Errorf("scan %s: %w", field.Name, err)
		}
	}
	return field.Set(ctx, dst, []string(arr))
}

func (textArraySerializer) Value(ctx context.Context, field *schema.Field, dst reflect.Value, fieldValue any) (any, error) {
	v, _ := fieldValue.([]string)
	if v == nil {
		v = []string{}
	}
	return pq.StringArray(v).Value()
}
