package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleUserSchema = `defmodule Demo.Accounts.User do
  use Ecto.Schema
  import Ecto.Changeset

  alias Demo.Accounts.{Profile, Credential}
  alias Demo.Blog.Post, as: Article

  schema "users" do
    field :email, :string
    field :age, :integer
    field :admin, :boolean, default: false
    has_one :profile, Profile
    has_many :articles, Article
    belongs_to :team, Demo.Orgs.Team
    timestamps()
  end

  def changeset(user, attrs) do
    user
    |> cast(attrs, [:email, :age])
  end
end
`

const sampleProfileSchema = `defmodule Demo.Accounts.Profile do
  use Ecto.Schema

  schema "profiles" do
    field :bio, :string
    belongs_to :user, Demo.Accounts.User
    embeds_one :settings, Settings
  end
end

defmodule Demo.Accounts.Settings do
  use Ecto.Schema

  embedded_schema do
    field :theme, :string
  end
end
`

const samplePostSchema = `defmodule Demo.Blog.Post do
  use Ecto.Schema

  schema "posts" do
    field :title, :string
    belongs_to :author, Demo.Accounts.User
  end
end
`

func newTestSchemas(t *testing.T) *SchemaRegistry {
	t.Helper()
	reg := NewSchemaRegistry(nil)
	reg.UpdateFile("lib/demo/accounts/user.ex", []byte(sampleUserSchema))
	reg.UpdateFile("lib/demo/accounts/profile.ex", []byte(sampleProfileSchema))
	reg.UpdateFile("lib/demo/blog/post.ex", []byte(samplePostSchema))
	return reg
}

func TestSchemaRegistry_ParsesFieldsAndInjectsId(t *testing.T) {
	reg := newTestSchemas(t)

	user := reg.Get("Demo.Accounts.User")
	require.NotNil(t, user)
	assert.Equal(t, "users", user.Table)
	assert.False(t, user.Embedded)

	require.NotEmpty(t, user.Fields)
	assert.Equal(t, "id", user.Fields[0].Name, "the implicit primary key comes first")
	assert.Equal(t, "id", user.Fields[0].Type)

	email := user.Field("email")
	require.NotNil(t, email)
	assert.Equal(t, "string", email.Type)
	assert.Equal(t, "integer", user.Field("age").Type)
	assert.Equal(t, "boolean", user.Field("admin").Type)

	assert.NotNil(t, user.Field("inserted_at"), "timestamps() adds both columns")
	assert.Equal(t, "naive_datetime", user.Field("updated_at").Type)
}

func TestSchemaRegistry_BelongsToForeignKey(t *testing.T) {
	reg := newTestSchemas(t)

	user := reg.Get("Demo.Accounts.User")
	require.NotNil(t, user)

	fk := user.Field("team_id")
	require.NotNil(t, fk, "belongs_to declares its foreign key column")
	assert.Equal(t, "id", fk.Type)

	team := user.Association("team")
	require.NotNil(t, team)
	assert.Equal(t, AssocBelongsTo, team.Kind)
	assert.Equal(t, "Demo.Orgs.Team", team.Target, "a qualified target stands as written")
}

func TestSchemaRegistry_AliasResolution(t *testing.T) {
	reg := newTestSchemas(t)

	user := reg.Get("Demo.Accounts.User")
	require.NotNil(t, user)

	profile := user.Association("profile")
	require.NotNil(t, profile)
	assert.Equal(t, "Demo.Accounts.Profile", profile.Target, "multi-alias form resolves")

	articles := user.Association("articles")
	require.NotNil(t, articles)
	assert.Equal(t, AssocHasMany, articles.Kind)
	assert.Equal(t, "Demo.Blog.Post", articles.Target, "as: renames resolve through the alias table")
	assert.Equal(t, "many", articles.Kind.Cardinality())
}

func TestSchemaRegistry_NamespaceFallback(t *testing.T) {
	reg := newTestSchemas(t)

	profile := reg.Get("Demo.Accounts.Profile")
	require.NotNil(t, profile)

	settings := profile.Association("settings")
	require.NotNil(t, settings)
	assert.Equal(t, "Demo.Accounts.Settings", settings.Target, "a bare name falls back to the declaring namespace")

	embedded := reg.Get("Demo.Accounts.Settings")
	require.NotNil(t, embedded)
	assert.True(t, embedded.Embedded)
	assert.Empty(t, embedded.Table)
	assert.Nil(t, embedded.Field("id"), "embedded schemas get no injected key")
}

func TestSchemaRegistry_PrimaryKeyOverrides(t *testing.T) {
	reg := NewSchemaRegistry(nil)
	reg.UpdateFile("api_key.ex", []byte(`defmodule Demo.Auth.ApiKey do
  use Ecto.Schema

  @primary_key {:key_id, :binary_id, autogenerate: true}
  schema "api_keys" do
    field :secret, :string
  end
end
`))
	reg.UpdateFile("hit.ex", []byte(`defmodule Demo.Stats.Hit do
  use Ecto.Schema

  @primary_key false
  schema "hits" do
    field :path, :string
  end
end
`))

	key := reg.Get("Demo.Auth.ApiKey")
	require.NotNil(t, key)
	require.Len(t, key.Fields, 2)
	assert.Equal(t, "key_id", key.Fields[0].Name)
	assert.Equal(t, "binary_id", key.Fields[0].Type)

	hit := reg.Get("Demo.Stats.Hit")
	require.NotNil(t, hit)
	require.Len(t, hit.Fields, 1, "@primary_key false suppresses the injected key")
	assert.Equal(t, "path", hit.Fields[0].Name)
}

func TestSchemaRegistry_FieldsForPath(t *testing.T) {
	reg := newTestSchemas(t)

	t.Run("empty path returns own fields", func(t *testing.T) {
		fields := reg.FieldsForPath("Demo.Accounts.User", "")
		require.NotEmpty(t, fields)
		assert.Equal(t, "id", fields[0].Name)
	})

	t.Run("single hop", func(t *testing.T) {
		fields := reg.FieldsForPath("User", "profile")
		require.NotEmpty(t, fields, "short start names resolve when unique")
		names := fieldNames(fields)
		assert.Contains(t, names, "bio")
		assert.Contains(t, names, "user_id")
	})

	t.Run("multi hop across registries of schemas", func(t *testing.T) {
		fields := reg.FieldsForPath("Demo.Accounts.User", "articles.author.profile")
		require.NotEmpty(t, fields)
		assert.Contains(t, fieldNames(fields), "bio")
	})

	t.Run("hop into embedded schema", func(t *testing.T) {
		fields := reg.FieldsForPath("User", "profile.settings")
		require.Len(t, fields, 1)
		assert.Equal(t, "theme", fields[0].Name)
	})

	t.Run("plain field short-circuits", func(t *testing.T) {
		assert.Empty(t, reg.FieldsForPath("Demo.Accounts.User", "email"))
	})

	t.Run("unknown segment short-circuits", func(t *testing.T) {
		assert.Empty(t, reg.FieldsForPath("Demo.Accounts.User", "profile.nothing"))
	})

	t.Run("unknown start", func(t *testing.T) {
		assert.Empty(t, reg.FieldsForPath("Demo.Nope", "profile"))
	})
}

func fieldNames(fields []FieldFact) []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names
}

func TestSchemaRegistry_ResolveModule(t *testing.T) {
	reg := newTestSchemas(t)

	assert.Equal(t, "Demo.Accounts.Profile", reg.ResolveModule("Profile", "Demo.Accounts.User"))
	assert.Equal(t, "Demo.Blog.Post", reg.ResolveModule("Article", "Demo.Accounts.User"))
	assert.Equal(t, "Demo.Accounts.User", reg.ResolveModule("User", ""))
	assert.Equal(t, "Demo.Accounts.User", reg.ResolveModule("Demo.Accounts.User", ""))
	assert.Empty(t, reg.ResolveModule("Mystery", "Demo.Accounts.User"))
}

func TestSchemaRegistry_MultipleSchemasPerFile(t *testing.T) {
	reg := newTestSchemas(t)

	facts := reg.ByFile("lib/demo/accounts/profile.ex")
	require.Len(t, facts, 2)
	assert.Equal(t, "Demo.Accounts.Profile", facts[0].Module)
	assert.Equal(t, "Demo.Accounts.Settings", facts[1].Module)
}

func TestSchemaRegistry_UpdateAndRemove(t *testing.T) {
	reg := NewSchemaRegistry(nil)
	content := []byte(sampleUserSchema)

	reg.UpdateFile("user.ex", content)
	reg.UpdateFile("user.ex", content)
	st := reg.Stats()
	assert.Equal(t, int64(1), st.Updates)
	assert.Equal(t, int64(1), st.Skips)

	reg.RemoveFile("user.ex")
	assert.Nil(t, reg.Get("Demo.Accounts.User"))
	assert.Equal(t, 0, reg.Stats().Files)
}
