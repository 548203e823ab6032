package tidb

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/spf13/viper"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	logger2 "greeting-cards/logger"
	"greeting-cards/model"
)

var (
	db   *gorm.DB
	once sync.Once
)

var tblCreateSqlMap = make(map[string]string)

func init() {
	tblCreateSqlMap["collection_info"] = "CREATE TABLE IF NOT EXISTS `collection_info` (\n    `name` varchar(255) NOT NULL COMMENT 'Collection name',\n    `symbol` varchar(64) NOT NULL COMMENT 'Collection symbol',\n    `admin` varchar(42) NOT NULL COMMENT 'Address allowed to withdraw the treasury',\n    `max_supply` bigint(20) unsigned NOT NULL COMMENT 'Supply cap',\n    `mint_price` decimal(38, 0) DEFAULT NULL COMMENT 'Price of one card in subunits',\n    `minted` bigint(20) unsigned DEFAULT '0',\n    `holders` int(11) DEFAULT '0',\n    `treasury` decimal(38, 0) DEFAULT '0' COMMENT 'Undrawn mint payments',\n    `withdrawn` decimal(38, 0) DEFAULT '0' COMMENT 'Total paid out to the admin',\n    `state_root` varchar(64) DEFAULT NULL COMMENT 'Merkle root over minted cards',\n    `updated_timestamp` timestamp(3) NULL DEFAULT NULL,\n    `completed_timestamp` timestamp(3) NULL DEFAULT NULL,\n    PRIMARY KEY (`name`)\n    );\n"
	tblCreateSqlMap["greeting_cards"] = "CREATE TABLE IF NOT EXISTS `greeting_cards` (\n    `collection` varchar(255) NOT NULL COMMENT 'Collection name',\n    `id` bigint(20) unsigned NOT NULL COMMENT 'Card id, 1..max supply',\n    `owner` binary(20) NOT NULL COMMENT 'Current owner',\n    `metadata_ref` text COMMENT 'Opaque metadata locator',\n    `minted_at` datetime(3) DEFAULT NULL,\n    PRIMARY KEY (`collection`, `id`),\n    KEY `idx_greeting_cards_owner` (`owner`)\n);\n"
	tblCreateSqlMap["card_balances"] = "CREATE TABLE IF NOT EXISTS `card_balances` (\n    `collection` varchar(255) NOT NULL COMMENT 'Collection name',\n    `wallet_address` varchar(42) NOT NULL COMMENT 'Address of owner',\n    `total_supply` bigint(20) unsigned DEFAULT NULL COMMENT 'Minted cards at snapshot time',\n    `amount` bigint(20) unsigned DEFAULT NULL COMMENT 'Cards held',\n    `updated_timestamp` datetime(3) DEFAULT NULL,\n    PRIMARY KEY (`collection`, `wallet_address`)\n);\n"
}

type Config struct {
	TiDBUser     string `mapstructure:"tidb_user"`
	TiDBPassword string `mapstructure:"tidb_password"`
	TiDBHost     string `mapstructure:"tidb_host"`
	TiDBPort     string `mapstructure:"tidb_port"`
	TiDBDBName   string `mapstructure:"tidb_db_name"`
}

var configKeys = []string{"tidb_user", "tidb_password", "tidb_host", "tidb_port", "tidb_db_name"}

// LoadConfig reads the connection settings from file, if given, and lets the
// environment variables of the same names, lower or upper case, override it.
func LoadConfig(file string) (*Config, error) {
	v := viper.New()
	for _, key := range configKeys {
		if err := v.BindEnv(key, key, strings.ToUpper(key)); err != nil {
			return nil, err
		}
	}
	v.SetDefault("tidb_port", "4000")

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read: %v", err)
		}
	}

	config := new(Config)
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unmarshal: %v", err)
	}
	return config, nil
}

// Configured reports whether enough settings are present to connect.
func (c *Config) Configured() bool {
	return c.TiDBHost != "" && c.TiDBUser != "" && c.TiDBDBName != ""
}

func (c *Config) DSN() string {
	mc := gomysql.NewConfig()
	mc.User = c.TiDBUser
	mc.Passwd = c.TiDBPassword
	mc.Net = "tcp"
	mc.Addr = c.TiDBHost + ":" + c.TiDBPort
	mc.DBName = c.TiDBDBName
	mc.ParseTime = true
	mc.Loc = time.UTC
	mc.Params = map[string]string{"charset": "utf8mb4"}
	return mc.FormatDSN()
}

func createDB(config *Config) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(config.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Error),
	})

	if err != nil {
		return nil, err
	}

	return db, nil
}

func JudgeTableExistOrNot(db *gorm.DB, tableName string) (bool, error) {
	var count int
	err := db.Raw("SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?", tableName).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func CreateTableIfNotExist[T any](db *gorm.DB, table T, tableName string) error {
	exist, err := JudgeTableExistOrNot(db, tableName)
	if err != nil {
		return err
	}
	if exist {
		return nil
	}

	fileSql, ok := tblCreateSqlMap[tableName]
	if !ok {
		tType := reflect.TypeOf(table)
		instance := reflect.New(tType).Interface()
		err = db.AutoMigrate(instance)
	} else {
		err = db.Exec(fileSql).Error
	}
	if err != nil {
		return fmt.Errorf("create table %s: %w", tableName, err)
	}
	return nil
}

// GetDBInstance opens the process-wide connection once.
func GetDBInstance(config *Config) (*gorm.DB, error) {
	var err error
	once.Do(func() {
		db, err = createDB(config)
	})
	return db, err
}

func GetDBInstanceByConfigFile(file_name string) (*gorm.DB, error) {
	config, err := LoadConfig(file_name)
	if err != nil {
		return nil, err
	}
	return GetDBInstance(config)
}

func GetDBInstanceByEnv() (*gorm.DB, error) {
	return GetDBInstanceByConfigFile("")
}

// MaxSeq returns the highest seq stored in an append-only table, or 0.
func MaxSeq(db *gorm.DB, tableName string) (uint64, error) {
	exist, err := JudgeTableExistOrNot(db, tableName)
	if err != nil || !exist {
		return 0, err
	}

	var max *uint64
	err = db.Table(tableName).Select("MAX(seq)").Scan(&max).Error
	if err != nil || max == nil {
		return 0, err
	}
	return *max, nil
}

func batchUpsert[T any](db *gorm.DB, datas []T, batchSize int, table_name string) error {
	if len(datas) == 0 {
		return nil
	}

	var logger = logger2.GetLogger()
	for i := 0; i < len(datas); i += batchSize {
		end := i + batchSize
		if end > len(datas) {
			end = len(datas)
		}

		err := db.Table(table_name).Clauses(clause.OnConflict{
			UpdateAll: true,
		}).Create(datas[i:end]).Error

		if err != nil {
			return err
		}
	}

	logger.Infof("Upsert into db successed, items %d %s", len(datas), table_name)
	return nil
}

// Batch is everything one run writes back.
type Batch struct {
	Collection *model.CollectionInfo
	Cards      []*model.Card
	Balances   []*model.CardBalance
	Activities []*model.TokenActivity
	LogEvents  []*model.EvmLog
}

// ProcessUpsert writes a batch in a single transaction.
func ProcessUpsert(db *gorm.DB, batch *Batch) error {
	tables := []struct {
		table interface{}
		name  string
	}{
		{model.CollectionInfo{}, model.CollectionInfo{}.TableName()},
		{model.Card{}, model.Card{}.TableName()},
		{model.CardBalance{}, model.CardBalance{}.TableName()},
		{model.TokenActivity{}, model.TokenActivity{}.TableName()},
		{model.EvmLog{}, model.EvmLog{}.TableName()},
	}
	for _, t := range tables {
		if err := CreateTableIfNotExist(db, t.table, t.name); err != nil {
			return err
		}
	}

	var defaultBatchSize = 200
	tx := db.Begin()
	if tx.Error != nil {
		return tx.Error
	}

	if batch.Collection != nil {
		if err := batchUpsert(tx, []*model.CollectionInfo{batch.Collection}, defaultBatchSize, model.CollectionInfo{}.TableName()); err != nil {
			tx.Rollback()
			return err
		}
	}

	if err := batchUpsert(tx, batch.Cards, defaultBatchSize, model.Card{}.TableName()); err != nil {
		tx.Rollback()
		return err
	}

	// holders that sold out must not linger
	if batch.Collection != nil {
		if err := tx.Where("collection = ?", batch.Collection.Name).Delete(&model.CardBalance{}).Error; err != nil {
			tx.Rollback()
			return err
		}
	}

	if err := batchUpsert(tx, batch.Balances, defaultBatchSize, model.CardBalance{}.TableName()); err != nil {
		tx.Rollback()
		return err
	}

	if err := batchUpsert(tx, batch.Activities, defaultBatchSize, model.TokenActivity{}.TableName()); err != nil {
		tx.Rollback()
		return err
	}

	if err := batchUpsert(tx, batch.LogEvents, defaultBatchSize, model.EvmLog{}.TableName()); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit().Error
}
